// Package interp produces gridded continuous surfaces from discrete
// station values via inverse distance weighting.
package interp

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/okian/airwatch/internal/domain/model"
)

// MinStations is the smallest network a surface is interpolated from.
const MinStations = 3

// Interpolation defaults, in degrees of longitude/latitude.
const (
	DefaultResolution  = 0.01
	DefaultMaxDistance = 0.5
	DefaultPower       = 2.0
)

// distanceFloor avoids division by zero for cells on top of a station.
const distanceFloor = 1e-10

// Option applies a configuration option to the interpolation.
type Option func(*Params)

// WithResolution sets the grid spacing in degrees.
func WithResolution(r float64) Option {
	return func(p *Params) {
		if r > 0 {
			p.Resolution = r
		}
	}
}

// WithMaxDistance sets how far from the nearest station a cell may sit
// and still receive an estimate, in degrees.
func WithMaxDistance(d float64) Option {
	return func(p *Params) {
		if d > 0 {
			p.MaxDistance = d
		}
	}
}

// WithPower sets the inverse-distance weighting exponent.
func WithPower(pow float64) Option {
	return func(p *Params) {
		if pow > 0 {
			p.Power = pow
		}
	}
}

// WithBounds sets the bounding box the grid covers.
func WithBounds(b model.BoundingBox) Option {
	return func(p *Params) {
		p.Bounds = b
	}
}

// Params are the knobs one interpolation ran with.
type Params struct {
	Resolution  float64
	MaxDistance float64
	Power       float64
	Bounds      model.BoundingBox
}

// Stats summarizes the estimated values over valid cells only.
type Stats struct {
	Min  float64
	Max  float64
	Mean float64
	Std  float64
}

// Surface is a regular lon/lat grid of estimated values. Grid is indexed
// [lat][lon]; cells beyond MaxDistance of every station hold NaN and are
// marked invalid.
type Surface struct {
	Grid  [][]float64
	Valid [][]bool
	Lons  []float64
	Lats  []float64

	Stats           Stats
	CoveragePercent float64
	StationsUsed    int
	Params          Params

	// Insufficient is set when fewer than MinStations stations were given.
	Insufficient bool
}

// Interpolate estimates a value surface over the bounding box. Every
// station contributes to every reachable cell, weighted by inverse
// distance raised to the configured power.
func Interpolate(stations []model.Station, values []float64, opts ...Option) (Surface, error) {
	if len(stations) != len(values) {
		return Surface{}, fmt.Errorf("station/value length mismatch: %d vs %d", len(stations), len(values))
	}

	params := Params{
		Resolution:  DefaultResolution,
		MaxDistance: DefaultMaxDistance,
		Power:       DefaultPower,
		Bounds:      model.WashingtonState,
	}
	for _, opt := range opts {
		opt(&params)
	}

	n := len(stations)
	if n < MinStations {
		return Surface{Params: params, StationsUsed: n, Insufficient: true}, nil
	}

	lons := axis(params.Bounds.MinLon, params.Bounds.MaxLon, params.Resolution)
	lats := axis(params.Bounds.MinLat, params.Bounds.MaxLat, params.Resolution)

	surface := Surface{
		Grid:         make([][]float64, len(lats)),
		Valid:        make([][]bool, len(lats)),
		Lons:         lons,
		Lats:         lats,
		StationsUsed: n,
		Params:       params,
	}

	valid := make([]float64, 0, len(lats)*len(lons))
	for yi, lat := range lats {
		surface.Grid[yi] = make([]float64, len(lons))
		surface.Valid[yi] = make([]bool, len(lons))
		for xi, lon := range lons {
			estimate, ok := estimateCell(lon, lat, stations, values, params)
			surface.Grid[yi][xi] = estimate
			surface.Valid[yi][xi] = ok
			if ok {
				valid = append(valid, estimate)
			}
		}
	}

	total := len(lats) * len(lons)
	if total > 0 {
		pct := 100 * float64(len(valid)) / float64(total)
		surface.CoveragePercent = math.Round(pct*10) / 10
	}
	if len(valid) > 0 {
		min, max := valid[0], valid[0]
		for _, v := range valid {
			min = math.Min(min, v)
			max = math.Max(max, v)
		}
		surface.Stats = Stats{
			Min:  min,
			Max:  max,
			Mean: stat.Mean(valid, nil),
			Std:  stat.PopStdDev(valid, nil),
		}
	}
	return surface, nil
}

// estimateCell returns the IDW estimate for one grid cell, or ok=false
// when the nearest station lies beyond the maximum distance.
func estimateCell(lon, lat float64, stations []model.Station, values []float64, params Params) (float64, bool) {
	nearest := math.Inf(1)
	dists := make([]float64, len(stations))
	for i, s := range stations {
		dlon := s.Longitude - lon
		dlat := s.Latitude - lat
		d := math.Sqrt(dlon*dlon + dlat*dlat)
		dists[i] = d
		nearest = math.Min(nearest, d)
	}
	if nearest > params.MaxDistance {
		return math.NaN(), false
	}

	weightedSum := 0.0
	weightSum := 0.0
	for i, d := range dists {
		w := 1.0 / math.Pow(math.Max(d, distanceFloor), params.Power)
		weightedSum += w * values[i]
		weightSum += w
	}
	if weightSum <= 0 {
		return math.NaN(), false
	}
	return weightedSum / weightSum, true
}

// axis returns grid coordinates lo, lo+step, ... strictly below hi.
func axis(lo, hi, step float64) []float64 {
	count := int(math.Ceil((hi - lo) / step))
	if count < 0 {
		count = 0
	}
	points := make([]float64, 0, count)
	for i := 0; i < count; i++ {
		points = append(points, lo+float64(i)*step)
	}
	return points
}
