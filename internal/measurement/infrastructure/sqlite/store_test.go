package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	measurement "speedboard/internal/measurement/domain"
)

const resultsSchema = `CREATE TABLE speedtest_results (timestamp TEXT NOT NULL, download INTEGER, upload INTEGER);`

const statusSchema = `CREATE TABLE speedtest_status (source_id TEXT, enabled INTEGER NOT NULL, recorded_at TEXT NOT NULL);`

func TestStore_ListSources(t *testing.T) {
	dir := t.TempDir()
	writeDB(t, dir, "beta_speedtest", resultsSchema)
	writeDB(t, dir, "alpha_speedtest", resultsSchema)
	writeDB(t, dir, "speedtest_control", statusSchema)
	if err := os.WriteFile(filepath.Join(dir, "notes_speedtest.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	store := newStore(t, dir, 1)
	sources, err := store.ListSources(context.Background())
	if err != nil {
		t.Fatalf("list sources: %v", err)
	}
	if len(sources) != 2 || sources[0] != "alpha_speedtest" || sources[1] != "beta_speedtest" {
		t.Fatalf("expected [alpha_speedtest beta_speedtest], got %v", sources)
	}
}

func TestStore_ListSourcesMissingDirectory(t *testing.T) {
	store := newStore(t, filepath.Join(t.TempDir(), "missing"), 1)
	sources, err := store.ListSources(context.Background())
	if !errors.Is(err, measurement.ErrCatalogUnavailable) {
		t.Fatalf("expected ErrCatalogUnavailable, got %v", err)
	}
	if len(sources) != 0 {
		t.Fatalf("expected no sources, got %v", sources)
	}
}

func TestStore_FetchNormalizesAndOrders(t *testing.T) {
	dir := t.TempDir()
	writeDB(t, dir, "alpha_speedtest", resultsSchema+`
INSERT INTO speedtest_results VALUES
	('2026-01-01 00:02:00', 900, 90),
	('2026-01-01 00:00:00', 1000, 100),
	('2026-01-01 00:01:00', 1100, 120),
	('2026-01-01 00:01:00', 1200, 130),
	('2026-01-01 00:03:00', NULL, 5);`)

	store := newStore(t, dir, 10)
	series, err := store.Fetch(context.Background(), "alpha_speedtest", measurement.TimeWindow{})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	want := []struct {
		at       string
		download float64
		upload   float64
	}{
		{"2026-01-01T00:00:00Z", 100, 10},
		{"2026-01-01T00:01:00Z", 110, 12},
		{"2026-01-01T00:01:00Z", 120, 13},
		{"2026-01-01T00:02:00Z", 90, 9},
	}
	if len(series.Samples) != len(want) {
		t.Fatalf("expected %d samples, got %d", len(want), len(series.Samples))
	}
	for i, sample := range series.Samples {
		at, _ := time.Parse(time.RFC3339, want[i].at)
		if !sample.Timestamp.Equal(at) {
			t.Fatalf("sample %d: expected %s, got %s", i, at, sample.Timestamp)
		}
		// duplicate timestamps may come back in either order
		if sample.Timestamp.Equal(at) && want[i].at == "2026-01-01T00:01:00Z" {
			continue
		}
		if math.Abs(sample.DownloadMbps-want[i].download) > 1e-9 || math.Abs(sample.UploadMbps-want[i].upload) > 1e-9 {
			t.Fatalf("sample %d: expected (%v,%v), got %+v", i, want[i].download, want[i].upload, sample)
		}
	}
	if series.Source != "alpha_speedtest" {
		t.Fatalf("expected source alpha_speedtest, got %s", series.Source)
	}
}

func TestStore_FetchWindow(t *testing.T) {
	dir := t.TempDir()
	writeDB(t, dir, "alpha_speedtest", resultsSchema+`
INSERT INTO speedtest_results VALUES
	('2026-01-01 00:00:00', 1, 1),
	('2026-01-02 00:00:00', 2, 2),
	('2026-01-03 00:00:00', 3, 3);`)
	store := newStore(t, dir, 1)

	series, err := store.Fetch(context.Background(), "alpha_speedtest", measurement.TimeWindow{
		Start: "2026-01-02 00:00:00",
		End:   "2026-01-03 00:00:00",
	})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(series.Samples) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(series.Samples))
	}

	// a half-open window is not applied
	series, err = store.Fetch(context.Background(), "alpha_speedtest", measurement.TimeWindow{Start: "2026-01-03 00:00:00"})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(series.Samples) != 3 {
		t.Fatalf("expected 3 samples, got %d", len(series.Samples))
	}
}

func TestStore_FetchFailures(t *testing.T) {
	dir := t.TempDir()
	writeDB(t, dir, "broken_speedtest", `CREATE TABLE other (x INTEGER);`)
	writeDB(t, dir, "garbled_speedtest", resultsSchema+`
INSERT INTO speedtest_results VALUES ('yesterday-ish', 1, 1);`)
	store := newStore(t, dir, 1)

	for _, source := range []measurement.SourceID{"missing_speedtest", "broken_speedtest", "garbled_speedtest"} {
		series, err := store.Fetch(context.Background(), source, measurement.TimeWindow{})
		if !errors.Is(err, measurement.ErrFetch) {
			t.Fatalf("%s: expected ErrFetch, got %v", source, err)
		}
		if len(series.Samples) != 0 {
			t.Fatalf("%s: expected no samples on failure", source)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "missing_speedtest.db")); !os.IsNotExist(err) {
		t.Fatalf("fetch must not create missing database files")
	}
}

func TestStore_GatePolicies(t *testing.T) {
	dir := t.TempDir()
	writeDB(t, dir, "speedtest_control", statusSchema+`
INSERT INTO speedtest_status VALUES
	('alpha_speedtest', 0, '2026-01-01 00:00:00'),
	('beta_speedtest', 1, '2026-01-01 00:00:00'),
	(NULL, 1, '2026-01-02 00:00:00');`)
	ctx := context.Background()

	global := newStore(t, dir, 1)
	for _, source := range []measurement.SourceID{"alpha_speedtest", "beta_speedtest", "gamma_speedtest"} {
		enabled, err := global.IsEnabled(ctx, source)
		if err != nil {
			t.Fatalf("global %s: %v", source, err)
		}
		if !enabled {
			t.Fatalf("global %s: expected latest shared row to enable", source)
		}
	}

	perSource := newStore(t, dir, 1, WithGatePolicy(measurement.GatePolicyPerSource))
	cases := map[measurement.SourceID]bool{
		"alpha_speedtest": false,
		"beta_speedtest":  true,
		"gamma_speedtest": true,
	}
	for source, want := range cases {
		enabled, err := perSource.IsEnabled(ctx, source)
		if err != nil {
			t.Fatalf("per source %s: %v", source, err)
		}
		if enabled != want {
			t.Fatalf("per source %s: expected %v, got %v", source, want, enabled)
		}
	}
}

func TestStore_GateUnavailable(t *testing.T) {
	store := newStore(t, t.TempDir(), 1)
	enabled, err := store.IsEnabled(context.Background(), "alpha_speedtest")
	if !errors.Is(err, measurement.ErrGateUnavailable) {
		t.Fatalf("expected ErrGateUnavailable, got %v", err)
	}
	if enabled {
		t.Fatalf("gate must fail closed")
	}
}

func TestParseTimestamp(t *testing.T) {
	inputs := []string{
		"2026-01-01T10:00:00Z",
		"2026-01-01 10:00:00",
		"2026-01-01T10:00:00",
		"1767261600",
	}
	want := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	for _, raw := range inputs {
		got, err := parseTimestamp(raw)
		if err != nil {
			t.Fatalf("parse %q: %v", raw, err)
		}
		if !got.Equal(want) {
			t.Fatalf("parse %q: expected %s, got %s", raw, want, got)
		}
	}
}

func newStore(t *testing.T, dir string, divisor float64, opts ...Option) *Store {
	t.Helper()
	store, err := NewStore(dir, divisor, opts...)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store
}

func writeDB(t *testing.T, dir, name, stmts string) {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(dir, name+fileExt))
	if err != nil {
		t.Fatalf("open %s: %v", name, err)
	}
	defer db.Close()
	if _, err := db.Exec(stmts); err != nil {
		t.Fatalf("seed %s: %v", name, err)
	}
}
