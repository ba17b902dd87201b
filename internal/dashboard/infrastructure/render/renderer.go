package render

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	dashboard "speedboard/internal/dashboard/domain"
	measurement "speedboard/internal/measurement/domain"
	"speedboard/internal/observability/metrics"
)

const (
	nameTimeLayout  = "20060102150405"
	maxNameAttempts = 1000

	formatPNG  = "png"
	formatXLSX = "xlsx"
	formatPDF  = "pdf"
)

// Renderer draws series charts into a write-once artifact directory.
type Renderer struct {
	dir        string
	width      int
	height     int
	dataExport bool
	pdf        bool
	clock      dashboard.Clock
	logger     *log.Logger
}

// NewRenderer constructs a Renderer and ensures dir exists.
func NewRenderer(dir string, opts ...Option) (*Renderer, error) {
	if dir == "" {
		return nil, errors.New("renderer: artifact dir required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("renderer: ensure dir: %w", err)
	}
	r := &Renderer{
		dir:        dir,
		width:      1000,
		height:     600,
		dataExport: true,
		clock:      dashboard.SystemClock{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Render writes <source>-<timestamp>.png plus enabled companions and returns
// the artifact. Names never collide with existing files. Nothing is left on
// disk when any part fails.
func (r *Renderer) Render(ctx context.Context, series measurement.Series) (dashboard.Artifact, error) {
	if series.Empty() {
		return dashboard.Artifact{}, dashboard.ErrEmptySeries
	}
	if err := ctx.Err(); err != nil {
		return dashboard.Artifact{}, fmt.Errorf("%w: %s: %w", dashboard.ErrRender, series.Source, err)
	}
	renderedAt := r.clock.Now()

	started := time.Now()
	chartPNG, err := drawChart(series, r.width, r.height)
	observe(formatPNG, err, started)
	if err != nil {
		return dashboard.Artifact{}, fmt.Errorf("%w: %s: draw: %w", dashboard.ErrRender, series.Source, err)
	}

	stem, err := r.reserve(series.Source, renderedAt, chartPNG)
	if err != nil {
		return dashboard.Artifact{}, fmt.Errorf("%w: %s: persist: %w", dashboard.ErrRender, series.Source, err)
	}
	written := []string{stem + "." + formatPNG}
	artifact := dashboard.Artifact{
		Source:     series.Source,
		Name:       stem + "." + formatPNG,
		Caption:    dashboard.Caption(series.Source),
		Samples:    len(series.Samples),
		RenderedAt: renderedAt,
	}

	if r.dataExport {
		started = time.Now()
		data, err := BuildSeriesXLSX(series)
		if err == nil {
			err = r.writeExclusive(stem+"."+formatXLSX, data)
		}
		observe(formatXLSX, err, started)
		if err != nil {
			r.remove(written)
			return dashboard.Artifact{}, fmt.Errorf("%w: %s: data export: %w", dashboard.ErrRender, series.Source, err)
		}
		written = append(written, stem+"."+formatXLSX)
		artifact.DataName = stem + "." + formatXLSX
	}

	if r.pdf {
		started = time.Now()
		doc, err := BuildChartPDF(series, chartPNG)
		if err == nil {
			err = r.writeExclusive(stem+"."+formatPDF, doc)
		}
		observe(formatPDF, err, started)
		if err != nil {
			r.remove(written)
			return dashboard.Artifact{}, fmt.Errorf("%w: %s: pdf: %w", dashboard.ErrRender, series.Source, err)
		}
		artifact.DocumentName = stem + "." + formatPDF
	}
	return artifact, nil
}

// reserve claims the first free name stem by creating the PNG exclusively.
func (r *Renderer) reserve(source measurement.SourceID, at time.Time, chartPNG []byte) (string, error) {
	base := sanitize(string(source)) + "-" + at.UTC().Format(nameTimeLayout)
	for attempt := 0; attempt < maxNameAttempts; attempt++ {
		stem := base
		if attempt > 0 {
			stem = fmt.Sprintf("%s-%d", base, attempt)
		}
		err := r.writeExclusive(stem+"."+formatPNG, chartPNG)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", err
		}
		return stem, nil
	}
	return "", fmt.Errorf("no free name for %s after %d attempts", base, maxNameAttempts)
}

func (r *Renderer) writeExclusive(name string, data []byte) error {
	path := filepath.Join(r.dir, name)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return err
	}
	return nil
}

func (r *Renderer) remove(names []string) {
	for _, name := range names {
		if err := os.Remove(filepath.Join(r.dir, name)); err != nil && r.logger != nil {
			r.logger.Printf("renderer cleanup error: name=%s err=%v", name, err)
		}
	}
}

func observe(format string, err error, started time.Time) {
	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	}
	metrics.ObserveRender(format, result, time.Since(started))
}

func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, name)
}

// Option configures a Renderer.
type Option func(*Renderer)

// WithSize sets the chart size in pixels.
func WithSize(width, height int) Option {
	return func(r *Renderer) {
		if width > 0 && height > 0 {
			r.width = width
			r.height = height
		}
	}
}

// WithDataExport toggles the .xlsx companion.
func WithDataExport(enabled bool) Option {
	return func(r *Renderer) {
		r.dataExport = enabled
	}
}

// WithPDF toggles the .pdf companion.
func WithPDF(enabled bool) Option {
	return func(r *Renderer) {
		r.pdf = enabled
	}
}

// WithClock overrides the clock that stamps artifact names.
func WithClock(clock dashboard.Clock) Option {
	return func(r *Renderer) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// WithLogger sets the logger for cleanup failures.
func WithLogger(logger *log.Logger) Option {
	return func(r *Renderer) {
		r.logger = logger
	}
}
