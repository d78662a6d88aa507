// Package cluster groups stations into geographic clusters with
// density-based clustering and reports leftover stations as noise.
package cluster

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/okian/airwatch/internal/domain/model"
	"github.com/okian/airwatch/internal/spatial/geo"
)

// Default clustering parameters.
const (
	// DefaultEps is the neighborhood radius in degrees of arc.
	DefaultEps = 0.1
	// DefaultMinSamples is the minimum neighborhood size to seed a cluster.
	DefaultMinSamples = 2
)

// NoiseID marks stations outside every cluster.
const NoiseID = -1

// Option applies a configuration option to a clustering run.
type Option func(*params)

// WithEps sets the neighborhood radius in degrees of arc.
func WithEps(eps float64) Option {
	return func(p *params) {
		if eps > 0 {
			p.eps = eps
		}
	}
}

// WithMinSamples sets the minimum neighborhood size to seed a cluster.
func WithMinSamples(n int) Option {
	return func(p *params) {
		if n > 0 {
			p.minSamples = n
		}
	}
}

type params struct {
	eps        float64
	minSamples int
}

// Assignment maps one station to a cluster (or NoiseID).
type Assignment struct {
	StationID string
	ClusterID int
	// NormalizedValue is the station value divided by the value standard
	// deviation, carried as an auxiliary feature for consumers.
	NormalizedValue float64
}

// NoisePoint is a station outside every cluster, reported with its raw value.
type NoisePoint struct {
	StationID string
	Longitude float64
	Latitude  float64
	Value     float64
}

// Summary describes one discovered cluster.
type Summary struct {
	ClusterID        int
	StationIDs       []string
	Count            int
	MeanValue        float64
	StdValue         float64
	CenterLat        float64
	CenterLon        float64
	GeographicSpread float64 // sqrt(stdLat² + stdLon²)
}

// Analysis is the full clustering output.
type Analysis struct {
	Assignments      []Assignment
	Clusters         []Summary
	Noise            []NoisePoint
	StationsAnalyzed int
	ClustersFound    int
	Eps              float64
	MinSamples       int

	// Insufficient is set when fewer stations than MinSamples were given.
	Insufficient bool
}

// Run clusters the stations by great-circle proximity using standard
// density-based semantics: stations with at least minSamples neighbors
// within eps seed clusters, reachable stations join them, the rest is
// noise. Iteration order is the station slice order, so identical input
// yields identical cluster ids.
func Run(stations []model.Station, values []float64, opts ...Option) (Analysis, error) {
	if len(stations) != len(values) {
		return Analysis{}, fmt.Errorf("station/value length mismatch: %d vs %d", len(stations), len(values))
	}

	p := params{eps: DefaultEps, minSamples: DefaultMinSamples}
	for _, opt := range opts {
		opt(&p)
	}

	n := len(stations)
	analysis := Analysis{
		StationsAnalyzed: n,
		Eps:              p.eps,
		MinSamples:       p.minSamples,
	}
	if n < p.minSamples {
		analysis.Insufficient = true
		return analysis, nil
	}

	epsRad := geo.DegToRad(p.eps)

	// Neighborhoods are self-inclusive, the standard core-point convention.
	neighborhoods := make([][]int, n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			d := geo.Haversine(
				stations[i].Longitude, stations[i].Latitude,
				stations[j].Longitude, stations[j].Latitude,
			)
			if d <= epsRad {
				neighborhoods[i] = append(neighborhoods[i], j)
			}
		}
	}

	labels := dbscan(neighborhoods, p.minSamples)

	valueStd := sampleStd(values)

	analysis.Assignments = make([]Assignment, n)
	for i := range stations {
		normalized := 0.0
		if valueStd > 0 {
			normalized = values[i] / valueStd
		}
		analysis.Assignments[i] = Assignment{
			StationID:       stations[i].ID,
			ClusterID:       labels[i],
			NormalizedValue: normalized,
		}
		if labels[i] == NoiseID {
			analysis.Noise = append(analysis.Noise, NoisePoint{
				StationID: stations[i].ID,
				Longitude: stations[i].Longitude,
				Latitude:  stations[i].Latitude,
				Value:     values[i],
			})
		}
	}

	analysis.Clusters = summarize(stations, values, labels)
	analysis.ClustersFound = len(analysis.Clusters)

	return analysis, nil
}

// dbscan labels each point with a cluster id or NoiseID given precomputed
// self-inclusive neighborhoods.
func dbscan(neighborhoods [][]int, minSamples int) []int {
	const unvisited = -2

	n := len(neighborhoods)
	labels := make([]int, n)
	for i := range labels {
		labels[i] = unvisited
	}

	next := 0
	for i := 0; i < n; i++ {
		if labels[i] != unvisited {
			continue
		}
		if len(neighborhoods[i]) < minSamples {
			labels[i] = NoiseID
			continue
		}

		// Expand a new cluster from this core point.
		labels[i] = next
		frontier := append([]int(nil), neighborhoods[i]...)
		for cursor := 0; cursor < len(frontier); cursor++ {
			j := frontier[cursor]
			if labels[j] == NoiseID {
				labels[j] = next // border point
			}
			if labels[j] != unvisited {
				continue
			}
			labels[j] = next
			if len(neighborhoods[j]) >= minSamples {
				frontier = append(frontier, neighborhoods[j]...)
			}
		}
		next++
	}

	return labels
}

// sampleStd is the corrected sample standard deviation, 0 below two samples.
func sampleStd(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	return stat.StdDev(xs, nil)
}

// summarize builds per-cluster statistics in cluster id order.
func summarize(stations []model.Station, values []float64, labels []int) []Summary {
	byCluster := map[int][]int{}
	maxID := -1
	for i, id := range labels {
		if id == NoiseID {
			continue
		}
		byCluster[id] = append(byCluster[id], i)
		if id > maxID {
			maxID = id
		}
	}

	summaries := make([]Summary, 0, len(byCluster))
	for id := 0; id <= maxID; id++ {
		members := byCluster[id]
		if len(members) == 0 {
			continue
		}

		vals := make([]float64, len(members))
		lats := make([]float64, len(members))
		lons := make([]float64, len(members))
		ids := make([]string, len(members))
		for k, i := range members {
			vals[k] = values[i]
			lats[k] = stations[i].Latitude
			lons[k] = stations[i].Longitude
			ids[k] = stations[i].ID
		}

		stdLat := sampleStd(lats)
		stdLon := sampleStd(lons)

		summaries = append(summaries, Summary{
			ClusterID:        id,
			StationIDs:       ids,
			Count:            len(members),
			MeanValue:        stat.Mean(vals, nil),
			StdValue:         sampleStd(vals),
			CenterLat:        stat.Mean(lats, nil),
			CenterLon:        stat.Mean(lons, nil),
			GeographicSpread: math.Sqrt(stdLat*stdLat + stdLon*stdLon),
		})
	}

	return summaries
}
