// Package risk turns measurement snapshots into composite risk scores at
// station, county, and statewide granularity.
package risk

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"gonum.org/v1/gonum/stat"

	"github.com/okian/airwatch/internal/adapters/repository"
	"github.com/okian/airwatch/internal/domain/model"
	"github.com/okian/airwatch/internal/domain/pollutant"
	"github.com/okian/airwatch/pkg/logger"
	"github.com/okian/airwatch/pkg/metrics"
)

// Level is the categorical risk classification of a composite score.
type Level string

// Risk levels, from least to most severe.
const (
	LevelLow       Level = "LOW"
	LevelModerate  Level = "MODERATE"
	LevelHigh      Level = "HIGH"
	LevelVeryHigh  Level = "VERY_HIGH"
	LevelHazardous Level = "HAZARDOUS"
)

// LevelFor maps a composite score onto its level. Buckets are half-open;
// the top bucket also catches scores at or above 100.
func LevelFor(score float64) Level {
	switch {
	case score < 25:
		return LevelLow
	case score < 50:
		return LevelModerate
	case score < 75:
		return LevelHigh
	case score < 90:
		return LevelVeryHigh
	default:
		return LevelHazardous
	}
}

// Availability tags how much data backed a score.
type Availability string

// Availability states.
const (
	AvailabilityNoData     Availability = "NO_DATA"
	AvailabilityLimited    Availability = "LIMITED"
	AvailabilityGood       Availability = "GOOD"
	AvailabilityNoStations Availability = "NO_STATIONS"
)

// Component is one pollutant's contribution to a composite score.
type Component struct {
	Score       float64
	Mean        float64
	Max         float64
	P95         float64
	SampleCount int
	Weight      float64
}

// StationScore is the composite risk assessment of one station.
type StationScore struct {
	StationID    string
	Score        float64
	Level        Level
	Components   map[string]Component
	Window       model.Window
	Availability Availability
}

// CountyScore aggregates the station scores inside one county.
type CountyScore struct {
	County       string
	Score        float64
	Level        Level
	Stations     []StationScore
	StationCount int
	Window       model.Window
	Availability Availability
}

// StatewideSummary holds statewide statistics and county rankings.
type StatewideSummary struct {
	Average          float64
	Median           float64
	Min              float64
	Max              float64
	Std              float64
	Rankings         []CountyScore
	CountiesAnalyzed int
	Availability     Availability
	AnalysisTime     time.Time
}

// Aggregation defaults.
const (
	DefaultWindowDays  = 30
	DefaultWorkerCount = 4

	// riskPercentile is the representative exposure quantile: peak events
	// matter more than the average, but a single spike should not
	// dominate the way a raw maximum would.
	riskPercentile = 0.95

	// scorePeriod is the averaging period scores are assessed against.
	scorePeriod = "24hour"
)

// Option applies a configuration option to the aggregator.
type Option func(*Aggregator)

// WithModel sets the pollutant risk model.
func WithModel(m *pollutant.Model) Option {
	return func(a *Aggregator) {
		if m != nil {
			a.model = m
		}
	}
}

// WithLogger sets the aggregator's logger.
func WithLogger(l logger.Logger) Option {
	return func(a *Aggregator) {
		if l != nil {
			a.log = l
		}
	}
}

// WithClock sets the clock used for default windows.
func WithClock(c clockwork.Clock) Option {
	return func(a *Aggregator) {
		if c != nil {
			a.clock = c
		}
	}
}

// WithWorkerCount bounds the per-county scoring fan-out.
func WithWorkerCount(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.workers = n
		}
	}
}

// WithWindowDays sets the default analysis window length.
func WithWindowDays(days int) Option {
	return func(a *Aggregator) {
		if days > 0 {
			a.windowDays = days
		}
	}
}

// Aggregator scores locations against a measurement source. Safe for
// concurrent use; it holds no per-call state.
type Aggregator struct {
	source     repository.MeasurementSource
	model      *pollutant.Model
	log        logger.Logger
	clock      clockwork.Clock
	workers    int
	windowDays int
}

// NewAggregator builds an aggregator over the given measurement source.
func NewAggregator(source repository.MeasurementSource, opts ...Option) (*Aggregator, error) {
	if source == nil {
		return nil, ErrNoSource
	}
	a := &Aggregator{
		source:     source,
		model:      pollutant.NewModel(),
		log:        logger.Named("risk"),
		clock:      clockwork.NewRealClock(),
		workers:    DefaultWorkerCount,
		windowDays: DefaultWindowDays,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// resolveWindow falls back to the trailing default window.
func (a *Aggregator) resolveWindow(window model.Window) model.Window {
	if window.IsZero() {
		return model.LastDays(a.clock.Now(), a.windowDays)
	}
	return window
}

// ScoreStation computes the composite risk score of one station over the
// window. A store failure is returned as an error; a station with no
// validated measurements yields a zero score tagged NO_DATA.
func (a *Aggregator) ScoreStation(ctx context.Context, stationID string, window model.Window) (StationScore, error) {
	window = a.resolveWindow(window)

	measurements, err := a.source.Measurements(ctx, repository.Query{
		StationID: stationID,
		Window:    window,
	})
	if err != nil {
		return StationScore{}, fmt.Errorf("score station %s: %w", stationID, err)
	}

	score := StationScore{
		StationID:    stationID,
		Level:        LevelLow,
		Components:   map[string]Component{},
		Window:       window,
		Availability: AvailabilityNoData,
	}
	if len(measurements) == 0 {
		a.log.Warn(ctx, "no valid measurements for station",
			logger.String("station_id", stationID))
		return score, nil
	}

	byParameter := map[string][]float64{}
	for _, m := range measurements {
		byParameter[m.Parameter] = append(byParameter[m.Parameter], m.Value)
	}

	weightedSum := 0.0
	weightSum := 0.0
	for parameter, values := range byParameter {
		if !a.model.Known(parameter) {
			continue
		}
		sorted := append([]float64(nil), values...)
		sort.Float64s(sorted)

		p95 := percentile(sorted, riskPercentile)
		componentScore := a.model.Score(ctx, parameter, p95, scorePeriod)
		weight := a.model.Weight(parameter)

		score.Components[parameter] = Component{
			Score:       componentScore,
			Mean:        stat.Mean(values, nil),
			Max:         sorted[len(sorted)-1],
			P95:         p95,
			SampleCount: len(values),
			Weight:      weight,
		}
		weightedSum += componentScore * weight
		weightSum += weight
	}

	if weightSum == 0 {
		return score, nil
	}
	score.Score = weightedSum / weightSum
	score.Level = LevelFor(score.Score)
	if len(score.Components) >= 2 {
		score.Availability = AvailabilityGood
	} else {
		score.Availability = AvailabilityLimited
	}
	metrics.RecordRiskScoreComputed()
	return score, nil
}

// ScoreCounty scores every active station in the county and averages the
// ones with data. Per-station failures are isolated: the station is
// excluded, the county survives. Only a station-listing failure aborts.
func (a *Aggregator) ScoreCounty(ctx context.Context, county string, window model.Window) (CountyScore, error) {
	window = a.resolveWindow(window)

	stations, err := a.source.Stations(ctx, repository.StationFilter{
		County:     county,
		ActiveOnly: true,
	})
	if err != nil {
		return CountyScore{}, fmt.Errorf("score county %s: %w", county, err)
	}

	result := CountyScore{
		County: county,
		Level:  LevelLow,
		Window: window,
	}
	if len(stations) == 0 {
		result.Availability = AvailabilityNoStations
		return result, nil
	}

	scores := a.scoreStations(ctx, stations, window)

	total := 0.0
	for _, s := range scores {
		if s.Availability == AvailabilityNoData {
			continue
		}
		result.Stations = append(result.Stations, s)
		total += s.Score
	}
	result.StationCount = len(result.Stations)

	if result.StationCount == 0 {
		result.Availability = AvailabilityNoData
		return result, nil
	}
	result.Score = total / float64(result.StationCount)
	result.Level = LevelFor(result.Score)
	if result.StationCount >= 2 {
		result.Availability = AvailabilityGood
	} else {
		result.Availability = AvailabilityLimited
	}
	metrics.UpdateStationsAnalyzed(result.StationCount)
	return result, nil
}

// scoreStations fans station scoring out over a bounded worker pool.
// Results come back in input order, so output is deterministic no matter
// which worker finishes first.
func (a *Aggregator) scoreStations(ctx context.Context, stations []model.Station, window model.Window) []StationScore {
	type job struct {
		idx     int
		station model.Station
	}

	jobs := make(chan job)
	scored := make([]*StationScore, len(stations))

	var wg sync.WaitGroup
	workers := min(a.workers, len(stations))
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				s, err := a.ScoreStation(ctx, j.station.ID, window)
				if err != nil {
					a.log.Warn(ctx, "station excluded from aggregation",
						logger.String("station_id", j.station.ID),
						logger.Error(err),
					)
					continue
				}
				scored[j.idx] = &s
			}
		}()
	}
	for i, s := range stations {
		jobs <- job{idx: i, station: s}
	}
	close(jobs)
	wg.Wait()

	out := make([]StationScore, 0, len(stations))
	for _, s := range scored {
		if s != nil {
			out = append(out, *s)
		}
	}
	return out
}

// ScoreStatewide scores every county with stations and summarizes the
// distribution. Counties without data are excluded entirely, never
// counted as zero.
func (a *Aggregator) ScoreStatewide(ctx context.Context, window model.Window) (StatewideSummary, error) {
	window = a.resolveWindow(window)

	counties, err := a.source.Counties(ctx)
	if err != nil {
		return StatewideSummary{}, fmt.Errorf("score statewide: %w", err)
	}

	var ranked []CountyScore
	for _, county := range counties {
		cs, err := a.ScoreCounty(ctx, county, window)
		if err != nil {
			a.log.Warn(ctx, "county excluded from statewide summary",
				logger.String("county", county),
				logger.Error(err),
			)
			continue
		}
		if cs.Availability == AvailabilityNoData || cs.Availability == AvailabilityNoStations {
			continue
		}
		ranked = append(ranked, cs)
	}

	summary := StatewideSummary{
		AnalysisTime: a.clock.Now(),
		Availability: AvailabilityNoData,
	}
	if len(ranked) == 0 {
		return summary, nil
	}

	values := make([]float64, len(ranked))
	minScore, maxScore := ranked[0].Score, ranked[0].Score
	for i, cs := range ranked {
		values[i] = cs.Score
		minScore = math.Min(minScore, cs.Score)
		maxScore = math.Max(maxScore, cs.Score)
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].County < ranked[j].County
	})

	summary.Average = stat.Mean(values, nil)
	summary.Median = percentile(sorted, 0.5)
	summary.Min = minScore
	summary.Max = maxScore
	summary.Std = stat.PopStdDev(values, nil)
	summary.Rankings = ranked
	summary.CountiesAnalyzed = len(ranked)
	summary.Availability = AvailabilityGood
	return summary, nil
}

// percentile linearly interpolates between order statistics of a sorted
// sample, q in [0,1].
func percentile(sorted []float64, q float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n == 1 {
		return sorted[0]
	}
	h := float64(n-1) * q
	lo := int(math.Floor(h))
	if lo >= n-1 {
		return sorted[n-1]
	}
	frac := h - float64(lo)
	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
}
