package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"

	measurement "speedboard/internal/measurement/domain"
)

const (
	defaultSourceSuffix    = "_speedtest"
	defaultResultsTable    = "speedtest_results"
	defaultStatusTable     = "speedtest_status"
	defaultControlDatabase = "speedtest_control"
)

// Store reads speedtest databases hosted on one Postgres server. Each source
// is a database whose name carries the catalog suffix.
type Store struct {
	base            *pgx.ConnConfig
	suffix          string
	resultsTable    string
	statusTable     string
	controlDatabase string
	divisor         float64
	policy          measurement.GatePolicy
	connectTimeout  time.Duration
	queryTimeout    time.Duration
}

// NewStore constructs a store from a server DSN and unit divisor.
func NewStore(dsn string, divisor float64, opts ...Option) (*Store, error) {
	if dsn == "" {
		return nil, errors.New("measurement postgres: dsn required")
	}
	if divisor <= 0 {
		return nil, measurement.ErrInvalidDivisor
	}
	base, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("measurement postgres: parse dsn: %w", err)
	}
	store := &Store{
		base:            base,
		suffix:          defaultSourceSuffix,
		resultsTable:    defaultResultsTable,
		statusTable:     defaultStatusTable,
		controlDatabase: defaultControlDatabase,
		divisor:         divisor,
		policy:          measurement.GatePolicyGlobal,
	}
	for _, opt := range opts {
		opt(store)
	}
	return store, nil
}

// ListSources returns the databases whose name ends with the catalog suffix.
func (s *Store) ListSources(ctx context.Context) ([]measurement.SourceID, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	db := s.open(s.base.Database)
	defer db.Close()

	rows, err := db.QueryContext(ctx, `
SELECT datname
FROM pg_database
WHERE NOT datistemplate AND datallowconn
ORDER BY datname ASC`)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", measurement.ErrCatalogUnavailable, err)
	}
	defer rows.Close()

	var sources []measurement.SourceID
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("%w: %w", measurement.ErrCatalogUnavailable, err)
		}
		if measurement.MatchesSuffix(name, s.suffix) {
			sources = append(sources, measurement.SourceID(name))
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", measurement.ErrCatalogUnavailable, err)
	}
	return sources, nil
}

// IsEnabled reads the latest status row from the control database. With the
// global policy the row is shared by all sources. A missing row means enabled.
func (s *Store) IsEnabled(ctx context.Context, source measurement.SourceID) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	db := s.open(s.controlDatabase)
	defer db.Close()

	table := pgx.Identifier{s.statusTable}.Sanitize()
	var (
		enabled bool
		err     error
	)
	if s.policy == measurement.GatePolicyPerSource {
		err = db.QueryRowContext(ctx, fmt.Sprintf(`
SELECT enabled
FROM %s
WHERE source_id = $1
ORDER BY recorded_at DESC
LIMIT 1`, table), string(source)).Scan(&enabled)
	} else {
		err = db.QueryRowContext(ctx, fmt.Sprintf(`
SELECT enabled
FROM %s
ORDER BY recorded_at DESC
LIMIT 1`, table)).Scan(&enabled)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: %w", measurement.ErrGateUnavailable, err)
	}
	return enabled, nil
}

// Fetch loads the source's results normalized to Mbps, ordered by timestamp.
func (s *Store) Fetch(ctx context.Context, source measurement.SourceID, window measurement.TimeWindow) (measurement.Series, error) {
	if source == "" {
		return measurement.Series{}, fmt.Errorf("%w: empty source", measurement.ErrFetch)
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	db := s.open(string(source))
	defer db.Close()

	query := fmt.Sprintf(`
SELECT "timestamp",
	download::double precision / $1,
	upload::double precision / $1
FROM %s`, pgx.Identifier{s.resultsTable}.Sanitize())
	args := []any{s.divisor}
	if window.Bounded() {
		query += `
WHERE "timestamp" >= CAST($2::text AS timestamptz)
	AND "timestamp" <= CAST($3::text AS timestamptz)`
		args = append(args, window.Start, window.End)
	}
	query += `
ORDER BY "timestamp" ASC`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return measurement.Series{}, fmt.Errorf("%w: %s: %w", measurement.ErrFetch, source, err)
	}
	defer rows.Close()

	samples := make([]measurement.Sample, 0)
	for rows.Next() {
		var (
			ts       time.Time
			download sql.NullFloat64
			upload   sql.NullFloat64
		)
		if err := rows.Scan(&ts, &download, &upload); err != nil {
			return measurement.Series{}, fmt.Errorf("%w: %s: decode: %w", measurement.ErrFetch, source, err)
		}
		if !download.Valid || !upload.Valid {
			continue
		}
		samples = append(samples, measurement.Sample{
			Timestamp:    ts.UTC(),
			DownloadMbps: download.Float64,
			UploadMbps:   upload.Float64,
		})
	}
	if err := rows.Err(); err != nil {
		return measurement.Series{}, fmt.Errorf("%w: %s: %w", measurement.ErrFetch, source, err)
	}
	return measurement.Series{Source: source, Window: window, Samples: samples}, nil
}

func (s *Store) open(database string) *sql.DB {
	cfg := s.base.Copy()
	if database != "" {
		cfg.Database = database
	}
	if s.connectTimeout > 0 {
		cfg.ConnectTimeout = s.connectTimeout
	}
	return stdlib.OpenDB(*cfg)
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.queryTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.queryTimeout)
}

// Option configures the store.
type Option func(*Store)

// WithSourceSuffix overrides the catalog suffix.
func WithSourceSuffix(suffix string) Option {
	return func(s *Store) {
		if suffix != "" {
			s.suffix = suffix
		}
	}
}

// WithResultsTable overrides the per-source results table.
func WithResultsTable(table string) Option {
	return func(s *Store) {
		if table != "" {
			s.resultsTable = table
		}
	}
}

// WithStatusTable overrides the status table in the control database.
func WithStatusTable(table string) Option {
	return func(s *Store) {
		if table != "" {
			s.statusTable = table
		}
	}
}

// WithControlDatabase overrides the database holding the status table.
func WithControlDatabase(name string) Option {
	return func(s *Store) {
		if name != "" {
			s.controlDatabase = name
		}
	}
}

// WithGatePolicy selects global or per-source status lookups.
func WithGatePolicy(policy measurement.GatePolicy) Option {
	return func(s *Store) {
		if policy != "" {
			s.policy = policy
		}
	}
}

// WithTimeouts bounds connection setup and each query.
func WithTimeouts(connect, query time.Duration) Option {
	return func(s *Store) {
		s.connectTimeout = connect
		s.queryTimeout = query
	}
}
