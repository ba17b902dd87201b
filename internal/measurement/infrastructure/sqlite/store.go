// Package sqlite reads speedtest results from a directory of SQLite files,
// one file per source, for single-host deployments.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	measurement "speedboard/internal/measurement/domain"
)

const (
	fileExt = ".db"

	defaultSourceSuffix    = "_speedtest"
	defaultResultsTable    = "speedtest_results"
	defaultStatusTable     = "speedtest_status"
	defaultControlDatabase = "speedtest_control"
)

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04",
	"2006-01-02",
}

// Store reads <directory>/<source>.db files.
type Store struct {
	dir             string
	suffix          string
	resultsTable    string
	statusTable     string
	controlDatabase string
	divisor         float64
	policy          measurement.GatePolicy
	queryTimeout    time.Duration
}

// NewStore constructs a store rooted at dir.
func NewStore(dir string, divisor float64, opts ...Option) (*Store, error) {
	if dir == "" {
		return nil, errors.New("measurement sqlite: directory required")
	}
	if divisor <= 0 {
		return nil, measurement.ErrInvalidDivisor
	}
	store := &Store{
		dir:             dir,
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

// ListSources returns the database files whose name ends with the suffix.
func (s *Store) ListSources(_ context.Context) ([]measurement.SourceID, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", measurement.ErrCatalogUnavailable, err)
	}
	var sources []measurement.SourceID
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != fileExt {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), fileExt)
		if measurement.MatchesSuffix(name, s.suffix) {
			sources = append(sources, measurement.SourceID(name))
		}
	}
	sort.Slice(sources, func(i, j int) bool { return sources[i] < sources[j] })
	return sources, nil
}

// IsEnabled reads the latest status row from the control database file.
func (s *Store) IsEnabled(ctx context.Context, source measurement.SourceID) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	db, err := s.open(s.controlDatabase)
	if err != nil {
		return false, fmt.Errorf("%w: %w", measurement.ErrGateUnavailable, err)
	}
	defer db.Close()

	table := quoteIdent(s.statusTable)
	var enabled bool
	if s.policy == measurement.GatePolicyPerSource {
		err = db.QueryRowContext(ctx, fmt.Sprintf(`
SELECT enabled FROM %s
WHERE source_id = ?
ORDER BY recorded_at DESC
LIMIT 1`, table), string(source)).Scan(&enabled)
	} else {
		err = db.QueryRowContext(ctx, fmt.Sprintf(`
SELECT enabled FROM %s
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
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	db, err := s.open(string(source))
	if err != nil {
		return measurement.Series{}, fmt.Errorf("%w: %s: %w", measurement.ErrFetch, source, err)
	}
	defer db.Close()

	query := fmt.Sprintf(`
SELECT timestamp,
	CAST(download AS REAL) / ?,
	CAST(upload AS REAL) / ?
FROM %s`, quoteIdent(s.resultsTable))
	args := []any{s.divisor, s.divisor}
	if window.Bounded() {
		query += `
WHERE timestamp >= ? AND timestamp <= ?`
		args = append(args, window.Start, window.End)
	}
	query += `
ORDER BY timestamp ASC`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return measurement.Series{}, fmt.Errorf("%w: %s: %w", measurement.ErrFetch, source, err)
	}
	defer rows.Close()

	samples := make([]measurement.Sample, 0)
	for rows.Next() {
		var (
			raw      string
			download sql.NullFloat64
			upload   sql.NullFloat64
		)
		if err := rows.Scan(&raw, &download, &upload); err != nil {
			return measurement.Series{}, fmt.Errorf("%w: %s: decode: %w", measurement.ErrFetch, source, err)
		}
		if !download.Valid || !upload.Valid {
			continue
		}
		ts, err := parseTimestamp(raw)
		if err != nil {
			return measurement.Series{}, fmt.Errorf("%w: %s: decode: %w", measurement.ErrFetch, source, err)
		}
		samples = append(samples, measurement.Sample{
			Timestamp:    ts,
			DownloadMbps: download.Float64,
			UploadMbps:   upload.Float64,
		})
	}
	if err := rows.Err(); err != nil {
		return measurement.Series{}, fmt.Errorf("%w: %s: %w", measurement.ErrFetch, source, err)
	}
	return measurement.Series{Source: source, Window: window, Samples: samples}, nil
}

// open refuses missing files; the driver would otherwise create them.
func (s *Store) open(name string) (*sql.DB, error) {
	path := filepath.Join(s.dir, name+fileExt)
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.queryTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.queryTimeout)
}

func parseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC(), nil
		}
	}
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", raw)
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
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

// WithControlDatabase overrides the control database file name (without extension).
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

// WithQueryTimeout bounds each query.
func WithQueryTimeout(timeout time.Duration) Option {
	return func(s *Store) {
		s.queryTimeout = timeout
	}
}
