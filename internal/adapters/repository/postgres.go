package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	// Postgres driver registration.
	_ "github.com/lib/pq"

	"github.com/okian/airwatch/internal/domain/model"
	"github.com/okian/airwatch/pkg/logger"
	"github.com/okian/airwatch/pkg/metrics"
)

// Connection pool and query bounds.
const (
	defaultQueryTimeout = 15 * time.Second
	defaultMaxOpenConns = 10
	defaultMaxIdleConns = 5
	defaultConnLifetime = time.Hour
)

// Option applies a configuration option to the Postgres store.
type Option func(*Postgres)

// WithQueryTimeout bounds every store round trip.
func WithQueryTimeout(d time.Duration) Option {
	return func(p *Postgres) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithLogger sets the logger used for store diagnostics.
func WithLogger(l logger.Logger) Option {
	return func(p *Postgres) {
		if l != nil {
			p.log = l
		}
	}
}

// Postgres implements MeasurementSource and ResultSink on top of the
// monitoring schema.
type Postgres struct {
	db      *sql.DB
	log     logger.Logger
	timeout time.Duration
}

var (
	_ MeasurementSource = (*Postgres)(nil)
	_ ResultSink        = (*Postgres)(nil)
)

// Open connects to the measurement store with bounded pool limits.
func Open(dsn string, opts ...Option) (*Postgres, error) {
	if dsn == "" {
		return nil, ErrMissingDSN
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(defaultMaxOpenConns)
	db.SetMaxIdleConns(defaultMaxIdleConns)
	db.SetConnMaxLifetime(defaultConnLifetime)

	p := &Postgres{
		db:      db,
		log:     logger.Named("repository"),
		timeout: defaultQueryTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Close releases the connection pool.
func (p *Postgres) Close() error { return p.db.Close() }

// Ping verifies store reachability.
func (p *Postgres) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := p.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Measurements returns quality-validated measurements for the query scope,
// ordered by parameter and descending timestamp.
func (p *Postgres) Measurements(ctx context.Context, q Query) ([]model.Measurement, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	defer observeQuery(time.Now())

	stmt, args := measurementsSQL(q)
	rows, err := p.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, p.fetchFailure(ctx, "measurements", err)
	}
	defer rows.Close()

	var out []model.Measurement
	for rows.Next() {
		var m model.Measurement
		var quality string
		if err := rows.Scan(&m.StationID, &m.Parameter, &m.Value, &m.Unit, &m.Timestamp, &quality); err != nil {
			return nil, p.fetchFailure(ctx, "measurements", err)
		}
		m.Quality = model.QualityFlag(quality)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, p.fetchFailure(ctx, "measurements", err)
	}
	return out, nil
}

// Stations returns station metadata for the filter scope, ordered by id.
func (p *Postgres) Stations(ctx context.Context, f StationFilter) ([]model.Station, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	defer observeQuery(time.Now())

	stmt, args := stationsSQL(f)
	rows, err := p.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, p.fetchFailure(ctx, "stations", err)
	}
	defer rows.Close()

	var out []model.Station
	for rows.Next() {
		var s model.Station
		if err := rows.Scan(&s.ID, &s.Name, &s.Longitude, &s.Latitude, &s.Active, &s.Type); err != nil {
			return nil, p.fetchFailure(ctx, "stations", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, p.fetchFailure(ctx, "stations", err)
	}
	return out, nil
}

// StationAggregates returns per-station summary statistics for one
// parameter, ordered by station id.
func (p *Postgres) StationAggregates(ctx context.Context, q AggregateQuery) ([]StationAggregate, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	defer observeQuery(time.Now())

	stmt, args := aggregatesSQL(q)
	rows, err := p.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, p.fetchFailure(ctx, "station_aggregates", err)
	}
	defer rows.Close()

	var out []StationAggregate
	for rows.Next() {
		var agg StationAggregate
		var std sql.NullFloat64
		if err := rows.Scan(
			&agg.Station.ID, &agg.Station.Name,
			&agg.Station.Longitude, &agg.Station.Latitude,
			&agg.Mean, &std, &agg.Count,
		); err != nil {
			return nil, p.fetchFailure(ctx, "station_aggregates", err)
		}
		// STDDEV is NULL for single-sample stations.
		agg.Std = std.Float64
		agg.Station.Active = true
		agg.Station.Type = StationType
		out = append(out, agg)
	}
	if err := rows.Err(); err != nil {
		return nil, p.fetchFailure(ctx, "station_aggregates", err)
	}
	return out, nil
}

// Counties returns the names of counties with active stations, sorted.
func (p *Postgres) Counties(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	defer observeQuery(time.Now())

	rows, err := p.db.QueryContext(ctx, countiesSQL)
	if err != nil {
		return nil, p.fetchFailure(ctx, "counties", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, p.fetchFailure(ctx, "counties", err)
		}
		out = append(out, name)
	}
	if err := rows.Err(); err != nil {
		return nil, p.fetchFailure(ctx, "counties", err)
	}
	return out, nil
}

// EnsureSchema creates the derived result tables when absent. The source
// measurement tables are owned by the ingestion pipeline and never touched.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	for _, stmt := range schemaStatements {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%w: ensure schema: %v", ErrUnavailable, err)
		}
	}
	return nil
}

// AppendRiskScore archives one composite risk score row.
func (p *Postgres) AppendRiskScore(ctx context.Context, rec RiskScoreRecord) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	factors, err := json.Marshal(rec.Factors)
	if err != nil {
		metrics.RecordResultAppendFailure()
		return fmt.Errorf("marshal contributing factors: %w", err)
	}
	_, err = p.db.ExecContext(ctx, insertRiskScoreSQL,
		rec.LocationID, rec.LocationType, rec.Score, rec.Level,
		factors, rec.Date, rec.RunID,
	)
	if err != nil {
		metrics.RecordResultAppendFailure()
		return fmt.Errorf("%w: append risk score: %v", ErrUnavailable, err)
	}
	metrics.RecordResultRowsAppended(1)
	return nil
}

// AppendHotspots archives the significant Gi* classifications of one run.
func (p *Postgres) AppendHotspots(ctx context.Context, recs []HotspotRecord) error {
	return p.appendRows(ctx, "hotspots", len(recs), func(tx *sql.Tx) error {
		for _, rec := range recs {
			if _, err := tx.ExecContext(ctx, insertHotspotSQL,
				rec.Parameter, rec.Kind, rec.StationID,
				rec.ZScore, rec.PValue, rec.Confidence,
				rec.Date, rec.RunID,
			); err != nil {
				return err
			}
		}
		return nil
	})
}

// AppendClusters archives the cluster assignments of one run.
func (p *Postgres) AppendClusters(ctx context.Context, recs []ClusterRecord) error {
	return p.appendRows(ctx, "clusters", len(recs), func(tx *sql.Tx) error {
		for _, rec := range recs {
			if _, err := tx.ExecContext(ctx, insertClusterSQL,
				rec.Parameter, rec.ClusterID, rec.StationID,
				rec.Kind, rec.MeanValue, rec.Date, rec.RunID,
			); err != nil {
				return err
			}
		}
		return nil
	})
}

// appendRows runs the inserts of one result batch inside a transaction.
func (p *Postgres) appendRows(ctx context.Context, kind string, count int, insert func(*sql.Tx) error) error {
	if count == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		metrics.RecordResultAppendFailure()
		return fmt.Errorf("%w: append %s: %v", ErrUnavailable, kind, err)
	}
	if err := insert(tx); err != nil {
		_ = tx.Rollback()
		metrics.RecordResultAppendFailure()
		return fmt.Errorf("%w: append %s: %v", ErrUnavailable, kind, err)
	}
	if err := tx.Commit(); err != nil {
		metrics.RecordResultAppendFailure()
		return fmt.Errorf("%w: append %s: %v", ErrUnavailable, kind, err)
	}
	metrics.RecordResultRowsAppended(count)
	return nil
}

func (p *Postgres) fetchFailure(ctx context.Context, query string, err error) error {
	metrics.RecordStoreFetchFailure()
	p.log.Error(ctx, "store query failed",
		logger.String("query", query),
		logger.Error(err),
	)
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, query, err)
}

func observeQuery(start time.Time) {
	metrics.RecordStoreQueryLatency(float64(time.Since(start).Milliseconds()))
}

// countyScopeSQL restricts stations to a county boundary.
const countyScopeSQL = `SELECT s.station_id
FROM monitoring_stations s
JOIN administrative_boundaries b ON ST_Within(s.location, b.geometry)
WHERE b.name = %s AND b.type = 'county'
AND s.type = '` + StationType + `' AND s.active = true`

// measurementsSQL builds the measurement snapshot query for one scope.
func measurementsSQL(q Query) (string, []any) {
	var (
		where = []string{"quality_flag = 'VALID'"}
		args  []any
	)
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if q.StationID != "" {
		where = append(where, "station_id = "+next(q.StationID))
	} else if q.County != "" {
		where = append(where, "station_id IN ("+fmt.Sprintf(countyScopeSQL, next(q.County))+")")
	}
	if q.Parameter != "" {
		where = append(where, "parameter = "+next(q.Parameter))
	}
	if !q.Window.IsZero() {
		where = append(where, "measurement_date BETWEEN "+next(q.Window.Start)+" AND "+next(q.Window.End))
	}

	stmt := `SELECT station_id, parameter, value, unit, measurement_date, quality_flag
FROM environmental_measurements
WHERE ` + strings.Join(where, "\nAND ") + `
ORDER BY parameter, measurement_date DESC`
	return stmt, args
}

// stationsSQL builds the station metadata query for one filter.
func stationsSQL(f StationFilter) (string, []any) {
	var args []any
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	stationType := f.Type
	if stationType == "" {
		stationType = StationType
	}

	stmt := `SELECT s.station_id, s.name, ST_X(s.location), ST_Y(s.location), s.active, s.type
FROM monitoring_stations s`
	where := []string{"s.type = " + next(stationType)}
	if f.County != "" {
		stmt += `
JOIN administrative_boundaries b ON ST_Within(s.location, b.geometry)`
		where = append(where, "b.name = "+next(f.County), "b.type = 'county'")
	}
	if f.ActiveOnly {
		where = append(where, "s.active = true")
	}

	stmt += `
WHERE ` + strings.Join(where, "\nAND ") + `
ORDER BY s.station_id`
	return stmt, args
}

// aggregatesSQL builds the per-station summary statistics query.
func aggregatesSQL(q AggregateQuery) (string, []any) {
	args := []any{q.Parameter}
	where := []string{
		"s.type = '" + StationType + "'",
		"s.active = true",
		"m.parameter = $1",
		"m.quality_flag = 'VALID'",
	}
	if !q.Window.IsZero() {
		args = append(args, q.Window.Start, q.Window.End)
		where = append(where, fmt.Sprintf("m.measurement_date BETWEEN $%d AND $%d", len(args)-1, len(args)))
	}

	minSamples := q.MinSamples
	if minSamples < 1 {
		minSamples = 1
	}
	args = append(args, minSamples)

	stmt := `SELECT s.station_id, s.name, ST_X(s.location), ST_Y(s.location),
AVG(m.value), STDDEV(m.value), COUNT(m.value)
FROM monitoring_stations s
JOIN environmental_measurements m ON s.station_id = m.station_id
WHERE ` + strings.Join(where, "\nAND ") + `
GROUP BY s.station_id, s.name, s.location
HAVING COUNT(m.value) >= $` + fmt.Sprintf("%d", len(args)) + `
ORDER BY s.station_id`
	return stmt, args
}

const countiesSQL = `SELECT DISTINCT b.name
FROM administrative_boundaries b
JOIN monitoring_stations s ON ST_Within(s.location, b.geometry)
WHERE b.type = 'county' AND s.type = '` + StationType + `' AND s.active = true
ORDER BY b.name`

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS environmental_risk_scores (
	id SERIAL PRIMARY KEY,
	location_id VARCHAR(50),
	location_type VARCHAR(20),
	risk_score NUMERIC(5,2),
	risk_category VARCHAR(20),
	contributing_factors JSONB,
	calculation_date DATE,
	run_id VARCHAR(36),
	created_at TIMESTAMP DEFAULT NOW()
)`,
	`CREATE TABLE IF NOT EXISTS pollution_hotspots (
	id SERIAL PRIMARY KEY,
	parameter VARCHAR(50),
	hotspot_type VARCHAR(20),
	station_id VARCHAR(50),
	z_score NUMERIC,
	p_value NUMERIC,
	significance_level VARCHAR(10),
	analysis_date DATE,
	run_id VARCHAR(36),
	created_at TIMESTAMP DEFAULT NOW()
)`,
	`CREATE TABLE IF NOT EXISTS spatial_clusters (
	id SERIAL PRIMARY KEY,
	parameter VARCHAR(50),
	cluster_id INTEGER,
	station_id VARCHAR(50),
	cluster_type VARCHAR(20),
	avg_pollution NUMERIC,
	analysis_date DATE,
	run_id VARCHAR(36),
	created_at TIMESTAMP DEFAULT NOW()
)`,
}

const insertRiskScoreSQL = `INSERT INTO environmental_risk_scores
(location_id, location_type, risk_score, risk_category, contributing_factors, calculation_date, run_id)
VALUES ($1, $2, $3, $4, $5, $6, $7)`

const insertHotspotSQL = `INSERT INTO pollution_hotspots
(parameter, hotspot_type, station_id, z_score, p_value, significance_level, analysis_date, run_id)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

const insertClusterSQL = `INSERT INTO spatial_clusters
(parameter, cluster_id, station_id, cluster_type, avg_pollution, analysis_date, run_id)
VALUES ($1, $2, $3, $4, $5, $6, $7)`
