// Package config defines engine configuration and loading hooks.
//
// Conventions:
// - Provide New(ctx) to build a Config with defaults.
// - Load(ctx) layers defaults, an optional YAML file, and env vars.
// - External errors must be wrapped via this package's sentinels.
package config

import (
	"context"
)

// Config contains engine configuration. Extend as needed.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// PostgresDSN points at the measurement store. Empty means the engine
	// is wired to an in-process source by its embedder.
	PostgresDSN string `koanf:"postgres_dsn"`

	// FetchTimeoutMS bounds every measurement store round trip.
	FetchTimeoutMS int `koanf:"fetch_timeout_ms"`

	// WorkerCount bounds the per-county scoring fan-out.
	WorkerCount int `koanf:"worker_count"`

	// WindowDays is the default trailing analysis window.
	WindowDays int `koanf:"window_days"`

	// MinSamples is the per-station floor of validated measurements for
	// the spatial aggregate queries.
	MinSamples int `koanf:"min_samples"`

	// NeighborCount is k for the knn spatial weights.
	NeighborCount int `koanf:"neighbor_count"`

	// Confidence is the hotspot significance level: 90, 95, or 99.
	Confidence int `koanf:"confidence"`

	// ClusterEps is the DBSCAN neighborhood radius in degrees.
	ClusterEps float64 `koanf:"cluster_eps"`

	// ClusterMinSamples is the DBSCAN core-point threshold.
	ClusterMinSamples int `koanf:"cluster_min_samples"`

	// Contamination is the expected outlier fraction, in (0, 0.5].
	Contamination float64 `koanf:"contamination"`

	// GridResolution is the interpolation grid spacing in degrees.
	GridResolution float64 `koanf:"grid_resolution"`

	// MaxInterpolationDistance bounds how far a grid cell may sit from
	// the nearest station, in degrees.
	MaxInterpolationDistance float64 `koanf:"max_interpolation_distance"`

	// IDWPower is the inverse-distance weighting exponent.
	IDWPower float64 `koanf:"idw_power"`

	// HealthWeights overrides pollutant health weights by parameter name.
	HealthWeights map[string]float64 `koanf:"health_weights"`

	// ReferenceOverrides overrides reference concentrations, keyed by
	// parameter then averaging period.
	ReferenceOverrides map[string]map[string]float64 `koanf:"reference_overrides"`
}

// New creates a Config with engine defaults. Context is accepted first to
// satisfy the project-wide convention; it is reserved for future use.
func New(_ context.Context) *Config {
	return &Config{
		LogLevel:                 "info",
		FetchTimeoutMS:           15_000,
		WorkerCount:              4,
		WindowDays:               30,
		MinSamples:               3,
		NeighborCount:            4,
		Confidence:               95,
		ClusterEps:               0.1,
		ClusterMinSamples:        2,
		Contamination:            0.1,
		GridResolution:           0.01,
		MaxInterpolationDistance: 0.5,
		IDWPower:                 2,
	}
}
