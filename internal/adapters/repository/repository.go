// Package repository defines the engine's data access contracts and their
// Postgres implementation. The engine reads measurement snapshots through
// MeasurementSource and appends derived results through ResultSink; it
// never reads its own output back.
package repository

import (
	"context"
	"time"

	"github.com/okian/airwatch/internal/domain/model"
)

// StationType is the station class the engine analyzes.
const StationType = "air_quality"

// Query selects measurements for one location and window. Only
// quality-validated rows are ever returned.
type Query struct {
	// StationID scopes to a single station. Mutually exclusive with County.
	StationID string
	// County scopes to every active station inside a county boundary.
	County string
	// Parameter optionally restricts to one pollutant.
	Parameter string
	// Window bounds the measurement timestamps. A zero window means no
	// time filter.
	Window model.Window
}

// StationFilter selects stations by class and scope.
type StationFilter struct {
	// Type defaults to StationType when empty.
	Type string
	// County optionally scopes to a county boundary.
	County string
	// ActiveOnly drops decommissioned stations.
	ActiveOnly bool
}

// AggregateQuery selects per-station summary statistics for one parameter,
// the per-station AVG/STDDEV/COUNT rows the spatial methods consume.
type AggregateQuery struct {
	Parameter string
	Window    model.Window
	// MinSamples drops stations with fewer validated measurements.
	MinSamples int
}

// StationAggregate is one station's summary statistics for a parameter.
type StationAggregate struct {
	Station model.Station
	Mean    float64
	Std     float64
	Count   int
}

// MeasurementSource supplies measurement snapshots and station metadata.
type MeasurementSource interface {
	Measurements(ctx context.Context, q Query) ([]model.Measurement, error)
	Stations(ctx context.Context, f StationFilter) ([]model.Station, error)
	StationAggregates(ctx context.Context, q AggregateQuery) ([]StationAggregate, error)
	Counties(ctx context.Context) ([]string, error)
}

// RiskScoreRecord is one appended composite risk score.
type RiskScoreRecord struct {
	LocationID   string
	LocationType string
	Score        float64
	Level        string
	// Factors is the per-parameter breakdown, stored as JSON.
	Factors any
	Date    time.Time
	RunID   string
}

// HotspotRecord is one appended Gi* classification.
type HotspotRecord struct {
	Parameter  string
	Kind       string
	StationID  string
	ZScore     float64
	PValue     float64
	Confidence string
	Date       time.Time
	RunID      string
}

// ClusterRecord is one appended cluster assignment.
type ClusterRecord struct {
	Parameter string
	ClusterID int
	StationID string
	Kind      string
	MeanValue float64
	Date      time.Time
	RunID     string
}

// ResultSink archives derived results. Appends are best effort: the
// engine logs and counts failures but never fails an analysis over them.
type ResultSink interface {
	AppendRiskScore(ctx context.Context, rec RiskScoreRecord) error
	AppendHotspots(ctx context.Context, recs []HotspotRecord) error
	AppendClusters(ctx context.Context, recs []ClusterRecord) error
}
