// Package hotspot implements Getis-Ord Gi* local hotspot detection over a
// station network.
package hotspot

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/okian/airwatch/internal/domain/model"
	"github.com/okian/airwatch/internal/spatial/weights"
)

// MinStations is the smallest network Gi* is defined for.
const MinStations = 3

// Class is the hotspot classification of one station.
type Class string

// Station classifications.
const (
	HotSpot        Class = "HOT_SPOT"
	ColdSpot       Class = "COLD_SPOT"
	NotSignificant Class = "NOT_SIGNIFICANT"
)

// Confidence selects the significance level for classification.
type Confidence int

// Supported confidence levels.
const (
	Confidence90 Confidence = 90
	Confidence95 Confidence = 95
	Confidence99 Confidence = 99
)

// Critical returns the two-tailed standard normal critical value for the
// confidence level. Unknown levels fall back to 95%.
func (c Confidence) Critical() float64 {
	switch c {
	case Confidence90:
		return 1.645
	case Confidence99:
		return 2.576
	default:
		return 1.96
	}
}

// Result is the Gi* outcome for one station.
type Result struct {
	StationID string
	Value     float64
	ZScore    float64
	PValue    float64
	Class     Class
}

// Point is a lon/lat vertex of the hotspot hull ring.
type Point struct {
	Lon float64
	Lat float64
}

// Analysis is the full hotspot detection output.
type Analysis struct {
	Results          []Result
	Confidence       Confidence
	Critical         float64
	Hotspots         int
	Coldspots        int
	NotSignificant   int
	StationsAnalyzed int

	// Insufficient is set when fewer than MinStations stations were given;
	// Results is empty in that case.
	Insufficient bool

	// HullRing is the convex hull of the hotspot stations, closed (first
	// point repeated last), present only when at least MinStations hotspots
	// exist and the hull is non-degenerate. It is a display convenience,
	// not a statistical output.
	HullRing []Point
}

// Detect runs Gi* over the station values using the given weight matrix and
// classifies each station at the requested confidence.
func Detect(stations []model.Station, values []float64, m *weights.Matrix, conf Confidence) (Analysis, error) {
	if len(stations) != len(values) {
		return Analysis{}, fmt.Errorf("station/value length mismatch: %d vs %d", len(stations), len(values))
	}
	if m != nil && m.Dim() != len(stations) {
		return Analysis{}, fmt.Errorf("weight matrix dimension %d does not match %d stations", m.Dim(), len(stations))
	}

	n := len(stations)
	analysis := Analysis{
		Confidence:       conf,
		Critical:         conf.Critical(),
		StationsAnalyzed: n,
	}
	if n < MinStations {
		analysis.Insufficient = true
		return analysis, nil
	}
	if m == nil {
		m = weights.Build(stations)
	}

	mean := floats.Sum(values) / float64(n)
	// Population variance, matching the Gi* expectation formula.
	sSquared := 0.0
	for _, v := range values {
		d := v - mean
		sSquared += d * d
	}
	sSquared /= float64(n)

	normal := distuv.Normal{Mu: 0, Sigma: 1}
	analysis.Results = make([]Result, n)

	for i := 0; i < n; i++ {
		wi := m.SelfInclusiveRow(i)

		localSum := floats.Dot(wi, values)
		sumW := floats.Sum(wi)
		sumWSq := floats.Dot(wi, wi)

		var z float64
		if sumW > 0 {
			expected := mean * sumW
			variance := sSquared * (float64(n)*sumWSq - sumW*sumW) / float64(n-1)
			if variance > 0 {
				z = (localSum - expected) / math.Sqrt(variance)
			}
		}

		p := 2 * (1 - normal.CDF(math.Abs(z)))

		class := NotSignificant
		switch {
		case z > analysis.Critical:
			class = HotSpot
		case z < -analysis.Critical:
			class = ColdSpot
		}

		analysis.Results[i] = Result{
			StationID: stations[i].ID,
			Value:     values[i],
			ZScore:    z,
			PValue:    p,
			Class:     class,
		}
	}

	var hotPoints []Point
	for i, r := range analysis.Results {
		switch r.Class {
		case HotSpot:
			analysis.Hotspots++
			hotPoints = append(hotPoints, Point{Lon: stations[i].Longitude, Lat: stations[i].Latitude})
		case ColdSpot:
			analysis.Coldspots++
		default:
			analysis.NotSignificant++
		}
	}

	if len(hotPoints) >= MinStations {
		analysis.HullRing = convexHull(hotPoints)
	}

	return analysis, nil
}

// convexHull computes the closed convex hull ring of the points via the
// monotone chain algorithm. Returns nil for degenerate (collinear) input.
func convexHull(points []Point) []Point {
	pts := make([]Point, len(points))
	copy(pts, points)
	sort.Slice(pts, func(i, j int) bool {
		if pts[i].Lon != pts[j].Lon {
			return pts[i].Lon < pts[j].Lon
		}
		return pts[i].Lat < pts[j].Lat
	})

	cross := func(o, a, b Point) float64 {
		return (a.Lon-o.Lon)*(b.Lat-o.Lat) - (a.Lat-o.Lat)*(b.Lon-o.Lon)
	}

	var lower []Point
	for _, p := range pts {
		for len(lower) >= 2 && cross(lower[len(lower)-2], lower[len(lower)-1], p) <= 0 {
			lower = lower[:len(lower)-1]
		}
		lower = append(lower, p)
	}

	var upper []Point
	for i := len(pts) - 1; i >= 0; i-- {
		p := pts[i]
		for len(upper) >= 2 && cross(upper[len(upper)-2], upper[len(upper)-1], p) <= 0 {
			upper = upper[:len(upper)-1]
		}
		upper = append(upper, p)
	}

	hull := append(lower[:len(lower)-1], upper[:len(upper)-1]...)
	if len(hull) < 3 {
		// Collinear stations produce no area; skip the ring.
		return nil
	}

	return append(hull, hull[0])
}
