package repository

import (
	"strings"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/airwatch/internal/domain/model"
)

func TestMeasurementsSQL(t *testing.T) {
	Convey("Given measurement queries of varying scope", t, func() {
		window := model.Window{
			Start: time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC),
			End:   time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC),
		}

		Convey("When scoped to a station, parameter, and window", func() {
			stmt, args := measurementsSQL(Query{
				StationID: "WA-0042",
				Parameter: "PM2.5 Mass",
				Window:    window,
			})

			Convey("Then the statement filters on all three plus quality", func() {
				So(stmt, ShouldContainSubstring, "quality_flag = 'VALID'")
				So(stmt, ShouldContainSubstring, "station_id = $1")
				So(stmt, ShouldContainSubstring, "parameter = $2")
				So(stmt, ShouldContainSubstring, "measurement_date BETWEEN $3 AND $4")
				So(stmt, ShouldContainSubstring, "ORDER BY parameter, measurement_date DESC")
				So(args, ShouldResemble, []any{"WA-0042", "PM2.5 Mass", window.Start, window.End})
			})
		})

		Convey("When scoped to a county", func() {
			stmt, args := measurementsSQL(Query{County: "King County"})

			Convey("Then the statement resolves stations via the boundary join", func() {
				So(stmt, ShouldContainSubstring, "administrative_boundaries")
				So(stmt, ShouldContainSubstring, "ST_Within")
				So(stmt, ShouldContainSubstring, "b.name = $1")
				So(args, ShouldResemble, []any{"King County"})
			})
		})

		Convey("When unscoped", func() {
			stmt, args := measurementsSQL(Query{})

			Convey("Then only the quality filter remains", func() {
				So(strings.Count(stmt, "$"), ShouldEqual, 0)
				So(args, ShouldBeEmpty)
			})
		})
	})
}

func TestStationsSQL(t *testing.T) {
	Convey("Given station filters", t, func() {
		Convey("When the filter is empty", func() {
			stmt, args := stationsSQL(StationFilter{})

			Convey("Then it defaults to active-agnostic air quality stations", func() {
				So(stmt, ShouldContainSubstring, "s.type = $1")
				So(stmt, ShouldContainSubstring, "ORDER BY s.station_id")
				So(stmt, ShouldNotContainSubstring, "s.active = true")
				So(args, ShouldResemble, []any{StationType})
			})
		})

		Convey("When scoped to an active county fleet", func() {
			stmt, args := stationsSQL(StationFilter{County: "Spokane County", ActiveOnly: true})

			Convey("Then the boundary join and active filter apply", func() {
				So(stmt, ShouldContainSubstring, "ST_Within")
				So(stmt, ShouldContainSubstring, "b.name = $2")
				So(stmt, ShouldContainSubstring, "s.active = true")
				So(args, ShouldResemble, []any{StationType, "Spokane County"})
			})
		})
	})
}

func TestAggregatesSQL(t *testing.T) {
	Convey("Given aggregate queries", t, func() {
		Convey("When a minimum sample count is requested", func() {
			stmt, args := aggregatesSQL(AggregateQuery{Parameter: "Ozone", MinSamples: 5})

			Convey("Then grouping and the HAVING floor are present", func() {
				So(stmt, ShouldContainSubstring, "GROUP BY s.station_id")
				So(stmt, ShouldContainSubstring, "HAVING COUNT(m.value) >= $2")
				So(stmt, ShouldContainSubstring, "m.parameter = $1")
				So(args, ShouldResemble, []any{"Ozone", 5})
			})
		})

		Convey("When no minimum is given", func() {
			_, args := aggregatesSQL(AggregateQuery{Parameter: "Ozone"})

			Convey("Then the floor defaults to one sample", func() {
				So(args, ShouldResemble, []any{"Ozone", 1})
			})
		})

		Convey("When a window is given", func() {
			stmt, args := aggregatesSQL(AggregateQuery{
				Parameter: "Ozone",
				Window: model.Window{
					Start: time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC),
					End:   time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC),
				},
				MinSamples: 3,
			})

			Convey("Then the window binds before the HAVING floor", func() {
				So(stmt, ShouldContainSubstring, "m.measurement_date BETWEEN $2 AND $3")
				So(stmt, ShouldContainSubstring, "HAVING COUNT(m.value) >= $4")
				So(args, ShouldHaveLength, 4)
			})
		})
	})
}

func TestOpenValidation(t *testing.T) {
	Convey("Given a missing DSN", t, func() {
		Convey("When opening the store", func() {
			_, err := Open("")

			Convey("Then the sentinel error is returned", func() {
				So(err, ShouldEqual, ErrMissingDSN)
			})
		})
	})
}
