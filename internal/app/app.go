// Package app wires the risk and spatial components into the engine the
// presentation layer embeds. Every operation is a self-contained pass:
// snapshot fetch, pure computation, optional best-effort result append.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/okian/airwatch/internal/adapters/repository"
	"github.com/okian/airwatch/internal/config"
	"github.com/okian/airwatch/internal/domain/model"
	"github.com/okian/airwatch/internal/domain/pollutant"
	"github.com/okian/airwatch/internal/domain/risk"
	"github.com/okian/airwatch/internal/spatial/autocorr"
	"github.com/okian/airwatch/internal/spatial/cluster"
	"github.com/okian/airwatch/internal/spatial/hotspot"
	"github.com/okian/airwatch/internal/spatial/interp"
	"github.com/okian/airwatch/internal/spatial/outlier"
	"github.com/okian/airwatch/internal/spatial/weights"
	"github.com/okian/airwatch/pkg/logger"
	"github.com/okian/airwatch/pkg/metrics"
)

// Location types on archived risk score rows.
const (
	locationTypeStation = "station"
	locationTypeCounty  = "county"
)

// Cluster membership kinds on archived cluster rows.
const (
	clusterKindMember = "CLUSTER"
	clusterKindNoise  = "OUTLIER"
)

// Option applies a configuration option to the engine.
type Option func(*Engine)

// WithConfig sets the engine configuration.
func WithConfig(cfg *config.Config) Option {
	return func(e *Engine) {
		if cfg != nil {
			e.cfg = cfg
		}
	}
}

// WithLogger sets the engine's logger.
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithSink enables best-effort archival of derived results.
func WithSink(s repository.ResultSink) Option {
	return func(e *Engine) {
		e.sink = s
	}
}

// WithClock sets the clock used for run timestamps and default windows.
func WithClock(c clockwork.Clock) Option {
	return func(e *Engine) {
		if c != nil {
			e.clock = c
		}
	}
}

// Engine runs risk scoring and spatial statistics over a measurement
// source. Operations are independent and safe to run concurrently.
type Engine struct {
	cfg    *config.Config
	log    logger.Logger
	source repository.MeasurementSource
	sink   repository.ResultSink
	clock  clockwork.Clock
	agg    *risk.Aggregator
}

// New builds an engine over the given measurement source.
func New(source repository.MeasurementSource, opts ...Option) (*Engine, error) {
	if source == nil {
		return nil, ErrNoSource
	}
	e := &Engine{
		cfg:    config.New(context.Background()),
		log:    logger.Named("engine"),
		source: source,
		clock:  clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(e)
	}

	agg, err := risk.NewAggregator(source,
		risk.WithModel(pollutant.NewModel(pollutant.WithProfiles(profilesFromConfig(e.cfg)))),
		risk.WithLogger(e.log.Named("risk")),
		risk.WithClock(e.clock),
		risk.WithWorkerCount(e.cfg.WorkerCount),
		risk.WithWindowDays(e.cfg.WindowDays),
	)
	if err != nil {
		return nil, err
	}
	e.agg = agg
	return e, nil
}

// OpenStore opens the configured Postgres measurement store with the
// configured fetch timeout. Convenience for embedders that do not inject a
// source of their own; the returned store serves as both MeasurementSource
// and ResultSink.
func OpenStore(cfg *config.Config) (*repository.Postgres, error) {
	return repository.Open(cfg.PostgresDSN,
		repository.WithQueryTimeout(time.Duration(cfg.FetchTimeoutMS)*time.Millisecond),
	)
}

// profilesFromConfig layers configured weight and reference overrides on
// top of the default EPA table.
func profilesFromConfig(cfg *config.Config) map[string]pollutant.Profile {
	profiles := pollutant.DefaultProfiles()
	for parameter, weight := range cfg.HealthWeights {
		p := profiles[parameter]
		p.HealthWeight = weight
		profiles[parameter] = p
	}
	for parameter, refs := range cfg.ReferenceOverrides {
		p := profiles[parameter]
		for period, concentration := range refs {
			replaced := false
			for i, r := range p.References {
				if r.Period == period {
					p.References[i].Concentration = concentration
					replaced = true
					break
				}
			}
			if !replaced {
				p.References = append(p.References, pollutant.Reference{
					Period:        period,
					Concentration: concentration,
				})
			}
		}
		profiles[parameter] = p
	}
	return profiles
}

// ScoreStation computes and optionally archives one station's composite
// risk score.
func (e *Engine) ScoreStation(ctx context.Context, stationID string, window model.Window) (risk.StationScore, error) {
	start := time.Now()
	score, err := e.agg.ScoreStation(ctx, stationID, window)
	if err != nil {
		metrics.RecordAnalysisFailure("score_station")
		return risk.StationScore{}, err
	}
	metrics.RecordAnalysis("score_station")
	metrics.RecordAnalysisLatency("score_station", float64(time.Since(start).Milliseconds()))

	e.appendRiskScore(ctx, repository.RiskScoreRecord{
		LocationID:   score.StationID,
		LocationType: locationTypeStation,
		Score:        score.Score,
		Level:        string(score.Level),
		Factors:      score.Components,
		Date:         e.clock.Now(),
		RunID:        uuid.NewString(),
	})
	return score, nil
}

// ScoreCounty computes and optionally archives one county's aggregated
// risk score.
func (e *Engine) ScoreCounty(ctx context.Context, county string, window model.Window) (risk.CountyScore, error) {
	start := time.Now()
	score, err := e.agg.ScoreCounty(ctx, county, window)
	if err != nil {
		metrics.RecordAnalysisFailure("score_county")
		return risk.CountyScore{}, err
	}
	metrics.RecordAnalysis("score_county")
	metrics.RecordAnalysisLatency("score_county", float64(time.Since(start).Milliseconds()))

	e.appendRiskScore(ctx, repository.RiskScoreRecord{
		LocationID:   score.County,
		LocationType: locationTypeCounty,
		Score:        score.Score,
		Level:        string(score.Level),
		Factors:      score.Stations,
		Date:         e.clock.Now(),
		RunID:        uuid.NewString(),
	})
	return score, nil
}

// ScoreStatewide summarizes county risk across the state.
func (e *Engine) ScoreStatewide(ctx context.Context, window model.Window) (risk.StatewideSummary, error) {
	start := time.Now()
	summary, err := e.agg.ScoreStatewide(ctx, window)
	if err != nil {
		metrics.RecordAnalysisFailure("score_statewide")
		return risk.StatewideSummary{}, err
	}
	metrics.RecordAnalysis("score_statewide")
	metrics.RecordAnalysisLatency("score_statewide", float64(time.Since(start).Milliseconds()))
	return summary, nil
}

// HotspotRequest selects what DetectHotspots analyzes. An empty Parameter
// switches to risk-score mode, where each station's value is its composite
// risk score instead of a pollutant mean.
type HotspotRequest struct {
	Parameter  string
	Confidence int
	Window     model.Window
}

// DetectHotspots runs Gi* hotspot classification over the station network
// and archives the significant stations.
func (e *Engine) DetectHotspots(ctx context.Context, req HotspotRequest) (hotspot.Analysis, error) {
	start := time.Now()

	confidence := req.Confidence
	if confidence == 0 {
		confidence = e.cfg.Confidence
	}

	var (
		stations []model.Station
		values   []float64
		err      error
	)
	if req.Parameter != "" {
		stations, values, _, err = e.parameterSnapshot(ctx, req.Parameter, req.Window)
	} else {
		stations, values, err = e.riskSnapshot(ctx, req.Window)
	}
	if err != nil {
		metrics.RecordAnalysisFailure("hotspots")
		return hotspot.Analysis{}, fmt.Errorf("detect hotspots: %w", err)
	}

	m := weights.Build(stations, weights.WithK(e.cfg.NeighborCount))
	analysis, err := hotspot.Detect(stations, values, m, hotspot.Confidence(confidence))
	if err != nil {
		metrics.RecordAnalysisFailure("hotspots")
		return hotspot.Analysis{}, fmt.Errorf("detect hotspots: %w", err)
	}
	if analysis.Insufficient {
		metrics.RecordInsufficientData("hotspots")
		return analysis, nil
	}
	metrics.RecordAnalysis("hotspots")
	metrics.RecordAnalysisLatency("hotspots", float64(time.Since(start).Milliseconds()))
	metrics.UpdateStationsAnalyzed(analysis.StationsAnalyzed)

	e.appendHotspots(ctx, req.Parameter, confidence, analysis)
	return analysis, nil
}

// ClusterStations groups stations into geographic clusters of similar
// pollution and archives the assignments.
func (e *Engine) ClusterStations(ctx context.Context, parameter string, window model.Window) (cluster.Analysis, error) {
	start := time.Now()

	stations, values, _, err := e.parameterSnapshot(ctx, parameter, window)
	if err != nil {
		metrics.RecordAnalysisFailure("clustering")
		return cluster.Analysis{}, fmt.Errorf("cluster stations: %w", err)
	}

	analysis, err := cluster.Run(stations, values,
		cluster.WithEps(e.cfg.ClusterEps),
		cluster.WithMinSamples(e.cfg.ClusterMinSamples),
	)
	if err != nil {
		metrics.RecordAnalysisFailure("clustering")
		return cluster.Analysis{}, fmt.Errorf("cluster stations: %w", err)
	}
	if analysis.Insufficient {
		metrics.RecordInsufficientData("clustering")
		return analysis, nil
	}
	metrics.RecordAnalysis("clustering")
	metrics.RecordAnalysisLatency("clustering", float64(time.Since(start).Milliseconds()))

	e.appendClusters(ctx, parameter, analysis)
	return analysis, nil
}

// Autocorrelation computes global Moran's I for one parameter.
func (e *Engine) Autocorrelation(ctx context.Context, parameter string, window model.Window) (autocorr.Result, error) {
	start := time.Now()

	stations, values, _, err := e.parameterSnapshot(ctx, parameter, window)
	if err != nil {
		metrics.RecordAnalysisFailure("autocorrelation")
		return autocorr.Result{}, fmt.Errorf("autocorrelation: %w", err)
	}

	m := weights.Build(stations, weights.WithK(e.cfg.NeighborCount))
	result, err := autocorr.Compute(stations, values, m)
	if err != nil {
		metrics.RecordAnalysisFailure("autocorrelation")
		return autocorr.Result{}, fmt.Errorf("autocorrelation: %w", err)
	}
	if result.Insufficient {
		metrics.RecordInsufficientData("autocorrelation")
		return result, nil
	}
	metrics.RecordAnalysis("autocorrelation")
	metrics.RecordAnalysisLatency("autocorrelation", float64(time.Since(start).Milliseconds()))
	return result, nil
}

// DetectOutliers flags stations with anomalous location/value profiles.
func (e *Engine) DetectOutliers(ctx context.Context, parameter string, window model.Window) (outlier.Analysis, error) {
	start := time.Now()

	stations, values, spreads, err := e.parameterSnapshot(ctx, parameter, window)
	if err != nil {
		metrics.RecordAnalysisFailure("outliers")
		return outlier.Analysis{}, fmt.Errorf("detect outliers: %w", err)
	}

	analysis, err := outlier.Detect(stations, values, spreads, e.cfg.Contamination)
	if err != nil {
		metrics.RecordAnalysisFailure("outliers")
		return outlier.Analysis{}, fmt.Errorf("detect outliers: %w", err)
	}
	if analysis.Insufficient {
		metrics.RecordInsufficientData("outliers")
		return analysis, nil
	}
	metrics.RecordAnalysis("outliers")
	metrics.RecordAnalysisLatency("outliers", float64(time.Since(start).Milliseconds()))
	return analysis, nil
}

// Interpolate produces a gridded pollution surface for one parameter.
func (e *Engine) Interpolate(ctx context.Context, parameter string, window model.Window) (interp.Surface, error) {
	start := time.Now()

	stations, values, _, err := e.parameterSnapshot(ctx, parameter, window)
	if err != nil {
		metrics.RecordAnalysisFailure("interpolation")
		return interp.Surface{}, fmt.Errorf("interpolate: %w", err)
	}

	surface, err := interp.Interpolate(stations, values,
		interp.WithResolution(e.cfg.GridResolution),
		interp.WithMaxDistance(e.cfg.MaxInterpolationDistance),
		interp.WithPower(e.cfg.IDWPower),
	)
	if err != nil {
		metrics.RecordAnalysisFailure("interpolation")
		return interp.Surface{}, fmt.Errorf("interpolate: %w", err)
	}
	if surface.Insufficient {
		metrics.RecordInsufficientData("interpolation")
		return surface, nil
	}
	metrics.RecordAnalysis("interpolation")
	metrics.RecordAnalysisLatency("interpolation", float64(time.Since(start).Milliseconds()))
	return surface, nil
}

// Comprehensive is the combined outcome of every spatial method for one
// parameter. Per-method failures are recorded, never aborting the rest.
type Comprehensive struct {
	Parameter    string
	RunID        string
	AnalysisTime time.Time

	Hotspots        *hotspot.Analysis
	Clusters        *cluster.Analysis
	Autocorrelation *autocorr.Result
	Outliers        *outlier.Analysis
	Surface         *interp.Surface

	// MethodsUsed lists the methods that produced a usable result.
	MethodsUsed []string
	// Failures maps a method name to why it produced nothing.
	Failures map[string]string
}

// ComprehensiveAnalysis runs every spatial method for a parameter. With an
// empty parameter only hotspot detection runs, over composite risk scores.
func (e *Engine) ComprehensiveAnalysis(ctx context.Context, parameter string, window model.Window) (Comprehensive, error) {
	out := Comprehensive{
		Parameter:    parameter,
		RunID:        uuid.NewString(),
		AnalysisTime: e.clock.Now(),
		Failures:     map[string]string{},
	}

	record := func(method string, insufficient bool, err error) bool {
		switch {
		case err != nil:
			out.Failures[method] = err.Error()
			e.log.Warn(ctx, "analysis method failed",
				logger.String("method", method),
				logger.Error(err),
			)
			return false
		case insufficient:
			out.Failures[method] = "insufficient data"
			return false
		default:
			out.MethodsUsed = append(out.MethodsUsed, method)
			return true
		}
	}

	hs, err := e.DetectHotspots(ctx, HotspotRequest{Parameter: parameter, Window: window})
	if record("hotspot_detection", hs.Insufficient, err) || hs.Insufficient {
		out.Hotspots = &hs
	}

	if parameter == "" {
		return out, nil
	}

	cl, err := e.ClusterStations(ctx, parameter, window)
	if record("spatial_clustering", cl.Insufficient, err) || cl.Insufficient {
		out.Clusters = &cl
	}

	ac, err := e.Autocorrelation(ctx, parameter, window)
	if record("spatial_autocorrelation", ac.Insufficient, err) || ac.Insufficient {
		out.Autocorrelation = &ac
	}

	ol, err := e.DetectOutliers(ctx, parameter, window)
	if record("outlier_detection", ol.Insufficient, err) || ol.Insufficient {
		out.Outliers = &ol
	}

	sf, err := e.Interpolate(ctx, parameter, window)
	if record("spatial_interpolation", sf.Insufficient, err) || sf.Insufficient {
		out.Surface = &sf
	}

	return out, nil
}

// parameterSnapshot fetches the per-station aggregates one parameter's
// spatial analyses run on.
func (e *Engine) parameterSnapshot(ctx context.Context, parameter string, window model.Window) ([]model.Station, []float64, []float64, error) {
	aggregates, err := e.source.StationAggregates(ctx, repository.AggregateQuery{
		Parameter:  parameter,
		Window:     window,
		MinSamples: e.cfg.MinSamples,
	})
	if err != nil {
		return nil, nil, nil, err
	}

	stations := make([]model.Station, len(aggregates))
	values := make([]float64, len(aggregates))
	spreads := make([]float64, len(aggregates))
	for i, agg := range aggregates {
		stations[i] = agg.Station
		values[i] = agg.Mean
		spreads[i] = agg.Std
	}
	return stations, values, spreads, nil
}

// riskSnapshot scores every active station and returns the ones with data,
// paired with their composite risk scores.
func (e *Engine) riskSnapshot(ctx context.Context, window model.Window) ([]model.Station, []float64, error) {
	all, err := e.source.Stations(ctx, repository.StationFilter{ActiveOnly: true})
	if err != nil {
		return nil, nil, err
	}

	var (
		stations []model.Station
		values   []float64
	)
	for _, station := range all {
		score, err := e.agg.ScoreStation(ctx, station.ID, window)
		if err != nil {
			e.log.Warn(ctx, "station excluded from hotspot analysis",
				logger.String("station_id", station.ID),
				logger.Error(err),
			)
			continue
		}
		if score.Availability == risk.AvailabilityNoData {
			continue
		}
		stations = append(stations, station)
		values = append(values, score.Score)
	}
	return stations, values, nil
}

// appendRiskScore archives one risk score row, best effort.
func (e *Engine) appendRiskScore(ctx context.Context, rec repository.RiskScoreRecord) {
	if e.sink == nil {
		return
	}
	if err := e.sink.AppendRiskScore(ctx, rec); err != nil {
		e.log.Warn(ctx, "risk score not archived",
			logger.String("location_id", rec.LocationID),
			logger.Error(err),
		)
	}
}

// appendHotspots archives the significant stations of one run, best effort.
func (e *Engine) appendHotspots(ctx context.Context, parameter string, confidence int, analysis hotspot.Analysis) {
	if e.sink == nil {
		return
	}
	date := e.clock.Now()
	runID := uuid.NewString()

	var recs []repository.HotspotRecord
	for _, r := range analysis.Results {
		if r.Class == hotspot.NotSignificant {
			continue
		}
		recs = append(recs, repository.HotspotRecord{
			Parameter:  parameter,
			Kind:       string(r.Class),
			StationID:  r.StationID,
			ZScore:     r.ZScore,
			PValue:     r.PValue,
			Confidence: fmt.Sprintf("%d%%", confidence),
			Date:       date,
			RunID:      runID,
		})
	}
	if err := e.sink.AppendHotspots(ctx, recs); err != nil {
		e.log.Warn(ctx, "hotspots not archived", logger.Error(err))
	}
}

// appendClusters archives cluster members and noise points, best effort.
func (e *Engine) appendClusters(ctx context.Context, parameter string, analysis cluster.Analysis) {
	if e.sink == nil {
		return
	}
	date := e.clock.Now()
	runID := uuid.NewString()

	var recs []repository.ClusterRecord
	for _, summary := range analysis.Clusters {
		for _, stationID := range summary.StationIDs {
			recs = append(recs, repository.ClusterRecord{
				Parameter: parameter,
				ClusterID: summary.ClusterID,
				StationID: stationID,
				Kind:      clusterKindMember,
				MeanValue: summary.MeanValue,
				Date:      date,
				RunID:     runID,
			})
		}
	}
	for _, noise := range analysis.Noise {
		recs = append(recs, repository.ClusterRecord{
			Parameter: parameter,
			ClusterID: cluster.NoiseID,
			StationID: noise.StationID,
			Kind:      clusterKindNoise,
			MeanValue: noise.Value,
			Date:      date,
			RunID:     runID,
		})
	}
	if err := e.sink.AppendClusters(ctx, recs); err != nil {
		e.log.Warn(ctx, "clusters not archived", logger.Error(err))
	}
}
