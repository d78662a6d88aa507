// Package model contains domain models passed between layers.
package model

import "time"

// QualityFlag marks the validity of a measurement. Only VALID measurements
// participate in analysis.
type QualityFlag string

// Known quality flags.
const (
	QualityValid   QualityFlag = "VALID"
	QualitySuspect QualityFlag = "SUSPECT"
	QualityInvalid QualityFlag = "INVALID"
)

// Station is a fixed monitoring site. Stations are created by the external
// ingestion process and are read-only to the engine.
type Station struct {
	ID        string  // unique station identifier
	Name      string  // human-readable name
	Longitude float64 // WGS84 degrees
	Latitude  float64 // WGS84 degrees
	Active    bool
	Type      string // e.g. "air_quality"
}

// Measurement is a single point sample of one parameter at one station.
type Measurement struct {
	StationID string
	Parameter string // pollutant name, e.g. "PM2.5 Mass"
	Value     float64
	Unit      string
	Timestamp time.Time
	Quality   QualityFlag
}

// Window is a half-open analysis time window [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

// Days returns the window length in whole days.
func (w Window) Days() int {
	return int(w.End.Sub(w.Start).Hours() / 24)
}

// IsZero reports whether the window is unset.
func (w Window) IsZero() bool {
	return w.Start.IsZero() && w.End.IsZero()
}

// LastDays builds a window covering the given number of days ending at now.
func LastDays(now time.Time, days int) Window {
	return Window{Start: now.AddDate(0, 0, -days), End: now}
}

// BoundingBox is a lon/lat rectangle used to scope interpolation grids.
type BoundingBox struct {
	MinLon float64
	MaxLon float64
	MinLat float64
	MaxLat float64
}

// Contains reports whether the point lies within the box (inclusive).
func (b BoundingBox) Contains(lon, lat float64) bool {
	return lon >= b.MinLon && lon <= b.MaxLon && lat >= b.MinLat && lat <= b.MaxLat
}

// WashingtonState is the approximate bounding box of Washington State, the
// default interpolation region.
var WashingtonState = BoundingBox{
	MinLon: -124.8,
	MaxLon: -116.9,
	MinLat: 45.5,
	MaxLat: 49.0,
}
