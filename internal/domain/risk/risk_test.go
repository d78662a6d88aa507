package risk_test

import (
	"context"
	"errors"
	"math"
	"os"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/airwatch/internal/adapters/repository"
	"github.com/okian/airwatch/internal/domain/model"
	"github.com/okian/airwatch/internal/domain/pollutant"
	"github.com/okian/airwatch/internal/domain/risk"
	"github.com/okian/airwatch/pkg/logger"
)

func TestMain(m *testing.M) {
	if err := logger.Init(); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

// fakeSource serves canned measurements and stations keyed by scope.
type fakeSource struct {
	measurements    map[string][]model.Measurement
	measurementsErr map[string]error
	stations        map[string][]model.Station
	stationsErr     error
	counties        []string
	countiesErr     error
}

func (f *fakeSource) Measurements(_ context.Context, q repository.Query) ([]model.Measurement, error) {
	if err := f.measurementsErr[q.StationID]; err != nil {
		return nil, err
	}
	return f.measurements[q.StationID], nil
}

func (f *fakeSource) Stations(_ context.Context, fl repository.StationFilter) ([]model.Station, error) {
	if f.stationsErr != nil {
		return nil, f.stationsErr
	}
	return f.stations[fl.County], nil
}

func (f *fakeSource) StationAggregates(context.Context, repository.AggregateQuery) ([]repository.StationAggregate, error) {
	return nil, nil
}

func (f *fakeSource) Counties(context.Context) ([]string, error) {
	if f.countiesErr != nil {
		return nil, f.countiesErr
	}
	return f.counties, nil
}

func repeated(stationID, parameter string, value float64, count int) []model.Measurement {
	out := make([]model.Measurement, count)
	for i := range out {
		out[i] = model.Measurement{
			StationID: stationID,
			Parameter: parameter,
			Value:     value,
			Timestamp: time.Date(2026, 7, 1+i%28, 0, 0, 0, 0, time.UTC),
			Quality:   model.QualityValid,
		}
	}
	return out
}

func TestLevelFor(t *testing.T) {
	Convey("Given the fixed threshold table", t, func() {
		cases := []struct {
			score float64
			level risk.Level
		}{
			{0, risk.LevelLow},
			{24.99, risk.LevelLow},
			{25, risk.LevelModerate},
			{49.99, risk.LevelModerate},
			{50, risk.LevelHigh},
			{74.99, risk.LevelHigh},
			{75, risk.LevelVeryHigh},
			{89.99, risk.LevelVeryHigh},
			{90, risk.LevelHazardous},
			{120, risk.LevelHazardous},
		}

		Convey("Then every score lands in its unique bucket", func() {
			for _, c := range cases {
				So(risk.LevelFor(c.score), ShouldEqual, c.level)
			}
		})
	})
}

func TestScoreStation(t *testing.T) {
	Convey("Given a station with PM2.5 at its reference and moderate ozone", t, func() {
		source := &fakeSource{
			measurements: map[string][]model.Measurement{
				"st-1": append(
					repeated("st-1", "PM2.5 Mass", 35.0, 20),
					repeated("st-1", "Ozone", 35.0, 10)...,
				),
			},
		}
		agg, err := risk.NewAggregator(source)
		So(err, ShouldBeNil)

		window := model.Window{
			Start: time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC),
			End:   time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC),
		}

		Convey("When scoring the station", func() {
			score, err := agg.ScoreStation(context.Background(), "st-1", window)
			So(err, ShouldBeNil)

			Convey("Then PM2.5 at reference contributes exactly 50", func() {
				pm := score.Components["PM2.5 Mass"]
				So(pm.Score, ShouldAlmostEqual, 50.0, 1e-9)
				So(pm.P95, ShouldEqual, 35.0)
				So(pm.Mean, ShouldEqual, 35.0)
				So(pm.Max, ShouldEqual, 35.0)
				So(pm.SampleCount, ShouldEqual, 20)
				So(pm.Weight, ShouldEqual, 1.0)
			})

			Convey("Then the composite is the health-weighted average", func() {
				// Ozone 35/70 -> base 25, weight 0.8 -> 20.
				// (50*1.0 + 20*0.8) / 1.8 = 36.67.
				So(score.Score, ShouldAlmostEqual, 36.6667, 1e-3)
				So(score.Level, ShouldEqual, risk.LevelModerate)
				So(score.Availability, ShouldEqual, risk.AvailabilityGood)
			})
		})
	})

	Convey("Given a custom model with weights 1.0 and 0.5", t, func() {
		// Concentration chosen so the base curve yields exactly 80:
		// 50 + 50*(1 - exp(-2*(r-1))) = 80 at r = 1 + ln(2.5)/2.
		conc := 10 * (1 + math.Log(2.5)/2)
		source := &fakeSource{
			measurements: map[string][]model.Measurement{
				"st-2": {
					{StationID: "st-2", Parameter: "Alpha", Value: conc, Quality: model.QualityValid},
					{StationID: "st-2", Parameter: "Beta", Value: conc, Quality: model.QualityValid},
				},
			},
		}
		custom := pollutant.NewModel(pollutant.WithProfiles(map[string]pollutant.Profile{
			"Alpha": {HealthWeight: 1.0, References: []pollutant.Reference{{Period: "24hour", Concentration: 10}}},
			"Beta":  {HealthWeight: 0.5, References: []pollutant.Reference{{Period: "24hour", Concentration: 10}}},
		}))
		agg, err := risk.NewAggregator(source, risk.WithModel(custom))
		So(err, ShouldBeNil)

		Convey("When scoring the station", func() {
			score, err := agg.ScoreStation(context.Background(), "st-2", model.Window{
				Start: time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC),
				End:   time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC),
			})
			So(err, ShouldBeNil)

			Convey("Then the composite follows the weighted-average contract", func() {
				// (80*1.0 + 40*0.5) / 1.5 = 66.67.
				So(score.Score, ShouldAlmostEqual, 66.67, 0.01)
				So(score.Level, ShouldEqual, risk.LevelHigh)
			})
		})
	})

	Convey("Given degenerate stations", t, func() {
		now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
		source := &fakeSource{
			measurements: map[string][]model.Measurement{
				"mystery": {{StationID: "mystery", Parameter: "Radon", Value: 4, Quality: model.QualityValid}},
			},
			measurementsErr: map[string]error{
				"down": repository.ErrUnavailable,
			},
		}
		agg, err := risk.NewAggregator(source, risk.WithClock(clockwork.NewFakeClockAt(now)))
		So(err, ShouldBeNil)

		Convey("When the station has no measurements", func() {
			score, err := agg.ScoreStation(context.Background(), "empty", model.Window{})

			Convey("Then the result is a zero score tagged NO_DATA", func() {
				So(err, ShouldBeNil)
				So(score.Score, ShouldEqual, 0)
				So(score.Level, ShouldEqual, risk.LevelLow)
				So(score.Availability, ShouldEqual, risk.AvailabilityNoData)
			})

			Convey("Then the default trailing window applies", func() {
				So(score.Window.End, ShouldResemble, now)
				So(score.Window.Days(), ShouldEqual, 30)
			})
		})

		Convey("When only unknown parameters report", func() {
			score, err := agg.ScoreStation(context.Background(), "mystery", model.Window{})

			Convey("Then they contribute nothing and availability stays NO_DATA", func() {
				So(err, ShouldBeNil)
				So(score.Score, ShouldEqual, 0)
				So(score.Components, ShouldBeEmpty)
				So(score.Availability, ShouldEqual, risk.AvailabilityNoData)
			})
		})

		Convey("When the store is unavailable", func() {
			_, err := agg.ScoreStation(context.Background(), "down", model.Window{})

			Convey("Then the failure surfaces as an error, not NO_DATA", func() {
				So(err, ShouldNotBeNil)
				So(errors.Is(err, repository.ErrUnavailable), ShouldBeTrue)
			})
		})
	})
}

func TestScoreCounty(t *testing.T) {
	Convey("Given a county with mixed station health", t, func() {
		source := &fakeSource{
			stations: map[string][]model.Station{
				"King County": {
					{ID: "good-1", Active: true},
					{ID: "good-2", Active: true},
					{ID: "empty", Active: true},
					{ID: "down", Active: true},
				},
			},
			measurements: map[string][]model.Measurement{
				"good-1": repeated("good-1", "PM2.5 Mass", 35.0, 8), // score 50
				"good-2": repeated("good-2", "PM2.5 Mass", 17.5, 8), // score 25
			},
			measurementsErr: map[string]error{
				"down": repository.ErrUnavailable,
			},
		}
		agg, err := risk.NewAggregator(source,
			risk.WithWorkerCount(2),
			risk.WithClock(clockwork.NewFakeClockAt(time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC))),
		)
		So(err, ShouldBeNil)

		Convey("When scoring the county", func() {
			cs, err := agg.ScoreCounty(context.Background(), "King County", model.Window{})
			So(err, ShouldBeNil)

			Convey("Then only stations with data enter the mean", func() {
				So(cs.StationCount, ShouldEqual, 2)
				So(cs.Score, ShouldAlmostEqual, 37.5, 1e-9)
				So(cs.Level, ShouldEqual, risk.LevelModerate)
				So(cs.Availability, ShouldEqual, risk.AvailabilityGood)
			})

			Convey("Then surviving stations keep their input order", func() {
				So(cs.Stations[0].StationID, ShouldEqual, "good-1")
				So(cs.Stations[1].StationID, ShouldEqual, "good-2")
			})
		})

		Convey("When scoring twice on an identical snapshot", func() {
			c1, err1 := agg.ScoreCounty(context.Background(), "King County", model.Window{})
			c2, err2 := agg.ScoreCounty(context.Background(), "King County", model.Window{})

			Convey("Then the outputs are identical despite the fan-out", func() {
				So(err1, ShouldBeNil)
				So(err2, ShouldBeNil)
				So(c1, ShouldResemble, c2)
			})
		})

		Convey("When the county has no stations", func() {
			cs, err := agg.ScoreCounty(context.Background(), "Ghost County", model.Window{})

			Convey("Then the result is tagged NO_STATIONS", func() {
				So(err, ShouldBeNil)
				So(cs.Availability, ShouldEqual, risk.AvailabilityNoStations)
				So(cs.Stations, ShouldBeEmpty)
			})
		})
	})
}

func TestScoreStatewide(t *testing.T) {
	Convey("Given counties with and without data", t, func() {
		now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
		source := &fakeSource{
			counties: []string{"Adams", "Benton", "Clark"},
			stations: map[string][]model.Station{
				"Adams":  {{ID: "ad-1", Active: true}},
				"Benton": {{ID: "be-1", Active: true}},
				// Clark has no stations.
			},
			measurements: map[string][]model.Measurement{
				"ad-1": repeated("ad-1", "PM2.5 Mass", 17.5, 8), // score 25
				"be-1": repeated("be-1", "PM2.5 Mass", 35.0, 8), // score 50
			},
		}
		agg, err := risk.NewAggregator(source, risk.WithClock(clockwork.NewFakeClockAt(now)))
		So(err, ShouldBeNil)

		Convey("When summarizing statewide", func() {
			summary, err := agg.ScoreStatewide(context.Background(), model.Window{})
			So(err, ShouldBeNil)

			Convey("Then counties without stations are excluded, not zeroed", func() {
				So(summary.CountiesAnalyzed, ShouldEqual, 2)
				So(summary.Availability, ShouldEqual, risk.AvailabilityGood)
			})

			Convey("Then the distribution statistics cover scoring counties", func() {
				So(summary.Average, ShouldAlmostEqual, 37.5, 1e-9)
				So(summary.Median, ShouldAlmostEqual, 37.5, 1e-9)
				So(summary.Min, ShouldAlmostEqual, 25, 1e-9)
				So(summary.Max, ShouldAlmostEqual, 50, 1e-9)
				So(summary.Std, ShouldAlmostEqual, 12.5, 1e-9)
				So(summary.AnalysisTime, ShouldResemble, now)
			})

			Convey("Then rankings are sorted most risky first", func() {
				So(summary.Rankings[0].County, ShouldEqual, "Benton")
				So(summary.Rankings[1].County, ShouldEqual, "Adams")
			})
		})

		Convey("When no county has data", func() {
			empty := &fakeSource{counties: []string{"Clark"}}
			agg2, err := risk.NewAggregator(empty)
			So(err, ShouldBeNil)

			summary, err := agg2.ScoreStatewide(context.Background(), model.Window{})

			Convey("Then the summary is tagged NO_DATA", func() {
				So(err, ShouldBeNil)
				So(summary.Availability, ShouldEqual, risk.AvailabilityNoData)
				So(summary.Rankings, ShouldBeEmpty)
			})
		})
	})
}

func TestNewAggregatorValidation(t *testing.T) {
	Convey("Given a nil measurement source", t, func() {
		Convey("When building the aggregator", func() {
			_, err := risk.NewAggregator(nil)

			Convey("Then the sentinel error is returned", func() {
				So(errors.Is(err, risk.ErrNoSource), ShouldBeTrue)
			})
		})
	})
}
