// Package outlier flags stations whose combined location/value profile is
// anomalous relative to their neighbors, using the local outlier factor.
package outlier

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/okian/airwatch/internal/domain/model"
)

// MinStations is the smallest network outlier detection runs on.
const MinStations = 5

// DefaultContamination is the expected fraction of anomalous stations.
const DefaultContamination = 0.1

// maxNeighbors caps the LOF neighborhood size.
const maxNeighbors = 10

// reachFloor keeps local reachability density finite for co-located
// feature vectors.
const reachFloor = 1e-10

// Score is one station's outlier assessment. Mean and Std carry the raw
// measurement statistics the feature vector was derived from.
type Score struct {
	StationID string
	Name      string
	Longitude float64
	Latitude  float64
	Mean      float64
	Std       float64
	Score     float64
}

// Analysis is the outcome of one outlier detection pass.
type Analysis struct {
	// Outliers is sorted most anomalous first.
	Outliers         []Score
	NormalCount      int
	Contamination    float64
	StationsAnalyzed int

	// Insufficient is set when fewer than MinStations stations were given.
	Insufficient bool
}

// Detect runs local-outlier-factor detection over the stations. values are
// per-station mean concentrations, spreads their standard deviations (nil
// is treated as all-zero). The top ceil(contamination*n) stations by LOF
// score are flagged.
func Detect(stations []model.Station, values, spreads []float64, contamination float64) (Analysis, error) {
	n := len(stations)
	if len(values) != n {
		return Analysis{}, fmt.Errorf("station/value length mismatch: %d vs %d", n, len(values))
	}
	if spreads == nil {
		spreads = make([]float64, n)
	}
	if len(spreads) != n {
		return Analysis{}, fmt.Errorf("station/spread length mismatch: %d vs %d", n, len(spreads))
	}
	if contamination <= 0 || contamination > 0.5 {
		contamination = DefaultContamination
	}

	if n < MinStations {
		return Analysis{
			Contamination:    contamination,
			StationsAnalyzed: n,
			Insufficient:     true,
		}, nil
	}

	features := buildFeatures(stations, values, spreads)
	scores := localOutlierFactor(features, min(maxNeighbors, n-1))

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		if scores[order[a]] != scores[order[b]] {
			return scores[order[a]] > scores[order[b]]
		}
		return order[a] < order[b]
	})

	flagged := int(math.Ceil(contamination * float64(n)))
	if flagged > n {
		flagged = n
	}

	analysis := Analysis{
		Outliers:         make([]Score, 0, flagged),
		NormalCount:      n - flagged,
		Contamination:    contamination,
		StationsAnalyzed: n,
	}
	for _, idx := range order[:flagged] {
		analysis.Outliers = append(analysis.Outliers, Score{
			StationID: stations[idx].ID,
			Name:      stations[idx].Name,
			Longitude: stations[idx].Longitude,
			Latitude:  stations[idx].Latitude,
			Mean:      values[idx],
			Std:       spreads[idx],
			Score:     scores[idx],
		})
	}
	return analysis, nil
}

// buildFeatures assembles the (lon, lat, normalized value, normalized
// spread) vectors. Zero-variance columns divide by 1 instead of 0.
func buildFeatures(stations []model.Station, values, spreads []float64) [][4]float64 {
	valueScale := stat.StdDev(values, nil)
	if valueScale <= 0 || math.IsNaN(valueScale) {
		valueScale = 1
	}
	spreadScale := stat.StdDev(spreads, nil)
	if spreadScale <= 0 || math.IsNaN(spreadScale) {
		spreadScale = 1
	}

	features := make([][4]float64, len(stations))
	for i, s := range stations {
		features[i] = [4]float64{
			s.Longitude,
			s.Latitude,
			values[i] / valueScale,
			spreads[i] / spreadScale,
		}
	}
	return features
}

// localOutlierFactor computes the LOF score for every feature vector with
// a k-neighbor neighborhood. Scores near 1 are typical density; larger
// scores mark points whose local density falls below their neighbors'.
func localOutlierFactor(features [][4]float64, k int) []float64 {
	n := len(features)

	dist := make([][]float64, n)
	for i := range dist {
		dist[i] = make([]float64, n)
		for j := range dist[i] {
			dist[i][j] = featureDistance(features[i], features[j])
		}
	}

	// k nearest neighbor indices per point, ties broken by index.
	neighbors := make([][]int, n)
	kdist := make([]float64, n)
	for i := 0; i < n; i++ {
		order := make([]int, 0, n-1)
		for j := 0; j < n; j++ {
			if j != i {
				order = append(order, j)
			}
		}
		sort.Slice(order, func(a, b int) bool {
			if dist[i][order[a]] != dist[i][order[b]] {
				return dist[i][order[a]] < dist[i][order[b]]
			}
			return order[a] < order[b]
		})
		neighbors[i] = order[:k]
		kdist[i] = dist[i][order[k-1]]
	}

	// Local reachability density.
	lrd := make([]float64, n)
	for i := 0; i < n; i++ {
		reachSum := 0.0
		for _, j := range neighbors[i] {
			reachSum += math.Max(kdist[j], dist[i][j])
		}
		lrd[i] = 1.0 / math.Max(reachSum/float64(k), reachFloor)
	}

	scores := make([]float64, n)
	for i := 0; i < n; i++ {
		ratioSum := 0.0
		for _, j := range neighbors[i] {
			ratioSum += lrd[j] / lrd[i]
		}
		scores[i] = ratioSum / float64(k)
	}
	return scores
}

func featureDistance(a, b [4]float64) float64 {
	sum := 0.0
	for d := 0; d < 4; d++ {
		delta := a[d] - b[d]
		sum += delta * delta
	}
	return math.Sqrt(sum)
}
