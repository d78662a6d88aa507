package hotspot_test

import (
	"math"
	"testing"

	"github.com/okian/airwatch/internal/domain/model"
	"github.com/okian/airwatch/internal/spatial/hotspot"
	"github.com/okian/airwatch/internal/spatial/weights"
	. "github.com/smartystreets/goconvey/convey"
)

func TestDetectSmallLine(t *testing.T) {
	Convey("Given 3 equally spaced stations with values 10, 50, 90", t, func() {
		stations := []model.Station{
			{ID: "low", Longitude: -122.0, Latitude: 47.5},
			{ID: "mid", Longitude: -121.5, Latitude: 47.5},
			{ID: "high", Longitude: -121.0, Latitude: 47.5},
		}
		values := []float64{10, 50, 90}
		m := weights.Build(stations, weights.WithK(2))

		Convey("When detecting at 99% confidence", func() {
			analysis, err := hotspot.Detect(stations, values, m, hotspot.Confidence99)
			So(err, ShouldBeNil)

			Convey("Then a sample this small should not reach significance", func() {
				for _, r := range analysis.Results {
					So(r.Class, ShouldEqual, hotspot.NotSignificant)
				}
			})

			Convey("Then the extreme stations should carry symmetric z-scores", func() {
				So(analysis.Results[2].ZScore, ShouldAlmostEqual, math.Sqrt2, 1e-6)
				So(analysis.Results[0].ZScore, ShouldAlmostEqual, -math.Sqrt2, 1e-6)
				So(analysis.Results[1].ZScore, ShouldAlmostEqual, 0, 1e-6)
			})

			Convey("Then p-values should match the two-tailed normal", func() {
				So(analysis.Results[2].PValue, ShouldAlmostEqual, 0.1573, 1e-3)
			})
		})
	})
}

func TestDetectClusteredGroups(t *testing.T) {
	Convey("Given two far-apart tight squares of extreme values", t, func() {
		stations := []model.Station{
			{ID: "a1", Longitude: -122.0, Latitude: 47.0},
			{ID: "a2", Longitude: -121.9, Latitude: 47.0},
			{ID: "a3", Longitude: -122.0, Latitude: 47.1},
			{ID: "a4", Longitude: -121.9, Latitude: 47.1},
			{ID: "b1", Longitude: -117.0, Latitude: 48.8},
			{ID: "b2", Longitude: -116.9, Latitude: 48.8},
			{ID: "b3", Longitude: -117.0, Latitude: 48.9},
			{ID: "b4", Longitude: -116.9, Latitude: 48.9},
		}
		values := []float64{100, 100, 100, 100, 0, 0, 0, 0}
		m := weights.Build(stations, weights.WithMethod(weights.MethodDistance))

		Convey("When detecting at 90% confidence", func() {
			analysis, err := hotspot.Detect(stations, values, m, hotspot.Confidence90)
			So(err, ShouldBeNil)

			Convey("Then the high square should be hot and the low square cold", func() {
				So(analysis.Hotspots, ShouldEqual, 4)
				So(analysis.Coldspots, ShouldEqual, 4)
				for _, r := range analysis.Results[:4] {
					So(r.Class, ShouldEqual, hotspot.HotSpot)
					So(r.ZScore, ShouldBeGreaterThan, 1.645)
				}
				for _, r := range analysis.Results[4:] {
					So(r.Class, ShouldEqual, hotspot.ColdSpot)
				}
			})

			Convey("Then a hull ring should cover the hotspot square", func() {
				So(analysis.HullRing, ShouldNotBeNil)
				// Closed ring: 4 corners plus the repeated first point.
				So(len(analysis.HullRing), ShouldEqual, 5)
				So(analysis.HullRing[0], ShouldResemble, analysis.HullRing[len(analysis.HullRing)-1])
			})
		})

		Convey("When detecting at 99% confidence", func() {
			analysis, err := hotspot.Detect(stations, values, m, hotspot.Confidence99)
			So(err, ShouldBeNil)

			Convey("Then nothing should reach significance", func() {
				So(analysis.Hotspots, ShouldEqual, 0)
				So(analysis.Coldspots, ShouldEqual, 0)
				So(analysis.NotSignificant, ShouldEqual, 8)
			})
		})

		Convey("When detecting twice on identical input", func() {
			a1, err1 := hotspot.Detect(stations, values, m, hotspot.Confidence95)
			a2, err2 := hotspot.Detect(stations, values, m, hotspot.Confidence95)

			Convey("Then the outputs should be identical", func() {
				So(err1, ShouldBeNil)
				So(err2, ShouldBeNil)
				So(a1.Results, ShouldResemble, a2.Results)
			})
		})
	})
}

func TestDetectEdgeCases(t *testing.T) {
	Convey("Given degenerate inputs", t, func() {
		Convey("When only 2 stations are available", func() {
			stations := []model.Station{
				{ID: "a", Longitude: -122.0, Latitude: 47.0},
				{ID: "b", Longitude: -121.0, Latitude: 47.0},
			}
			analysis, err := hotspot.Detect(stations, []float64{1, 2}, nil, hotspot.Confidence95)

			Convey("Then the result should flag insufficient data, not error", func() {
				So(err, ShouldBeNil)
				So(analysis.Insufficient, ShouldBeTrue)
				So(analysis.Results, ShouldBeEmpty)
			})
		})

		Convey("When all stations share the same value", func() {
			stations := []model.Station{
				{ID: "a", Longitude: -122.0, Latitude: 47.0},
				{ID: "b", Longitude: -121.5, Latitude: 47.0},
				{ID: "c", Longitude: -121.0, Latitude: 47.0},
			}
			analysis, err := hotspot.Detect(stations, []float64{5, 5, 5}, nil, hotspot.Confidence95)

			Convey("Then zero variance should yield zero z-scores", func() {
				So(err, ShouldBeNil)
				for _, r := range analysis.Results {
					So(r.ZScore, ShouldEqual, 0)
					So(r.Class, ShouldEqual, hotspot.NotSignificant)
				}
			})
		})

		Convey("When station and value counts disagree", func() {
			stations := []model.Station{{ID: "a"}, {ID: "b"}, {ID: "c"}}
			_, err := hotspot.Detect(stations, []float64{1, 2}, nil, hotspot.Confidence95)

			Convey("Then an error should be returned", func() {
				So(err, ShouldNotBeNil)
			})
		})
	})
}
