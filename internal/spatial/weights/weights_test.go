package weights_test

import (
	"testing"

	"github.com/okian/airwatch/internal/domain/model"
	"github.com/okian/airwatch/internal/spatial/weights"
	. "github.com/smartystreets/goconvey/convey"
)

func lineStations() []model.Station {
	return []model.Station{
		{ID: "a", Longitude: -122.5, Latitude: 47.5, Active: true, Type: "air_quality"},
		{ID: "b", Longitude: -122.0, Latitude: 47.5, Active: true, Type: "air_quality"},
		{ID: "c", Longitude: -121.5, Latitude: 47.5, Active: true, Type: "air_quality"},
		{ID: "d", Longitude: -121.0, Latitude: 47.5, Active: true, Type: "air_quality"},
	}
}

func TestBuildKNN(t *testing.T) {
	Convey("Given four stations along a line", t, func() {
		stations := lineStations()

		Convey("When building knn weights with k=2", func() {
			m := weights.Build(stations, weights.WithMethod(weights.MethodKNN), weights.WithK(2))

			Convey("Then every row should sum to 1 or 0", func() {
				for i := 0; i < m.Dim(); i++ {
					sum := m.RowSum(i)
					So(sum == 0 || (sum > 0.999999 && sum < 1.000001), ShouldBeTrue)
				}
			})

			Convey("Then the neighbor structure should be symmetric", func() {
				for i := 0; i < m.Dim(); i++ {
					for j := 0; j < m.Dim(); j++ {
						So(m.At(i, j) > 0, ShouldEqual, m.At(j, i) > 0)
					}
				}
			})

			Convey("Then the diagonal should be excluded", func() {
				for i := 0; i < m.Dim(); i++ {
					So(m.At(i, i), ShouldEqual, 0)
				}
			})

			Convey("Then nearer neighbors should weigh more", func() {
				// Station b's nearest neighbors are a and c at equal
				// distance; d is farther and only reachable through
				// symmetrization.
				So(m.At(1, 0), ShouldBeGreaterThan, 0)
				So(m.At(1, 2), ShouldBeGreaterThan, 0)
				So(m.At(1, 0), ShouldAlmostEqual, m.At(1, 2), 1e-9)
			})
		})

		Convey("When building twice on identical input", func() {
			m1 := weights.Build(stations, weights.WithK(3))
			m2 := weights.Build(stations, weights.WithK(3))

			Convey("Then the matrices should be identical", func() {
				for i := 0; i < m1.Dim(); i++ {
					for j := 0; j < m1.Dim(); j++ {
						So(m1.At(i, j), ShouldEqual, m2.At(i, j))
					}
				}
			})
		})

		Convey("When k exceeds the station count", func() {
			m := weights.Build(stations, weights.WithK(50))

			Convey("Then each station should connect to all others", func() {
				for i := 0; i < m.Dim(); i++ {
					So(m.RowSum(i), ShouldAlmostEqual, 1.0, 1e-9)
				}
			})
		})
	})
}

func TestBuildDistance(t *testing.T) {
	Convey("Given four stations along a line", t, func() {
		stations := lineStations()

		Convey("When building distance weights", func() {
			m := weights.Build(stations, weights.WithMethod(weights.MethodDistance))

			Convey("Then every row should sum to 1", func() {
				for i := 0; i < m.Dim(); i++ {
					So(m.RowSum(i), ShouldAlmostEqual, 1.0, 1e-9)
				}
			})

			Convey("Then every off-diagonal entry should be positive", func() {
				for i := 0; i < m.Dim(); i++ {
					for j := 0; j < m.Dim(); j++ {
						if i == j {
							So(m.At(i, j), ShouldEqual, 0)
						} else {
							So(m.At(i, j), ShouldBeGreaterThan, 0)
						}
					}
				}
			})
		})
	})
}

func TestSelfInclusiveRow(t *testing.T) {
	Convey("Given a built matrix", t, func() {
		m := weights.Build(lineStations(), weights.WithK(2))

		Convey("When requesting a self-inclusive row", func() {
			row := m.SelfInclusiveRow(1)

			Convey("Then the diagonal entry should be 1", func() {
				So(row[1], ShouldEqual, 1.0)
			})

			Convey("Then the stored matrix should be unchanged", func() {
				So(m.At(1, 1), ShouldEqual, 0)
			})
		})
	})
}

func TestBuildDegenerate(t *testing.T) {
	Convey("Given degenerate inputs", t, func() {
		Convey("When building with no stations", func() {
			m := weights.Build(nil)
			So(m.Dim(), ShouldEqual, 0)
		})

		Convey("When two stations share a location", func() {
			stations := []model.Station{
				{ID: "a", Longitude: -122.0, Latitude: 47.0},
				{ID: "b", Longitude: -122.0, Latitude: 47.0},
			}
			m := weights.Build(stations, weights.WithK(1))

			Convey("Then their rows should stay all-zero", func() {
				So(m.RowSum(0), ShouldEqual, 0)
				So(m.RowSum(1), ShouldEqual, 0)
			})
		})
	})
}
