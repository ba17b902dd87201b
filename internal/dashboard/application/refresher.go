package application

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	dashboard "speedboard/internal/dashboard/domain"
	"speedboard/internal/dashboard/notify"
	measurement "speedboard/internal/measurement/domain"
	"speedboard/internal/observability/metrics"
)

// Renderer turns a series into a persisted artifact.
type Renderer interface {
	Render(ctx context.Context, series measurement.Series) (dashboard.Artifact, error)
}

// SourceResult records what one source contributed to a cycle.
type SourceResult struct {
	Source   measurement.SourceID
	Outcome  dashboard.Outcome
	Artifact *dashboard.Artifact
	Err      error
}

// CycleReport summarizes one refresh cycle.
type CycleReport struct {
	CycleID    string
	Window     measurement.TimeWindow
	StartedAt  time.Time
	FinishedAt time.Time
	CatalogErr error
	Results    []SourceResult
	Snapshot   *dashboard.Snapshot
}

// Rendered counts sources that produced an artifact.
func (r CycleReport) Rendered() int {
	count := 0
	for _, result := range r.Results {
		if result.Outcome == dashboard.OutcomeRendered {
			count++
		}
	}
	return count
}

// Failures counts sources that failed, plus a failed catalog listing.
func (r CycleReport) Failures() int {
	count := 0
	if r.CatalogErr != nil {
		count++
	}
	for _, result := range r.Results {
		if result.Outcome.Failed() {
			count++
		}
	}
	return count
}

// Refresher runs refresh cycles: list, gate, fetch, render, publish.
type Refresher struct {
	catalog   measurement.SourceCatalog
	gate      measurement.AvailabilityGate
	fetcher   measurement.SeriesFetcher
	renderer  Renderer
	snapshots *SnapshotStore
	notifier  notify.Notifier
	logger    *log.Logger
	clock     dashboard.Clock
	newID     func() string
}

// NewRefresher constructs a Refresher.
func NewRefresher(catalog measurement.SourceCatalog, gate measurement.AvailabilityGate, fetcher measurement.SeriesFetcher, renderer Renderer, snapshots *SnapshotStore, logger *log.Logger, opts ...RefresherOption) (*Refresher, error) {
	if catalog == nil || gate == nil || fetcher == nil {
		return nil, errors.New("refresher: nil measurement store")
	}
	if renderer == nil {
		return nil, errors.New("refresher: nil renderer")
	}
	if snapshots == nil {
		return nil, errors.New("refresher: nil snapshot store")
	}
	r := &Refresher{
		catalog:   catalog,
		gate:      gate,
		fetcher:   fetcher,
		renderer:  renderer,
		snapshots: snapshots,
		logger:    logger,
		clock:     dashboard.SystemClock{},
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// RunCycle executes one cycle and publishes its snapshot, even when empty.
// The pending window is read once, before any source is processed. A cycle
// whose ctx ends before publication publishes nothing and notifies nobody;
// its report has a nil Snapshot.
func (r *Refresher) RunCycle(ctx context.Context) CycleReport {
	report := CycleReport{
		CycleID:   r.newID(),
		Window:    r.snapshots.PendingWindow(),
		StartedAt: r.clock.Now(),
	}
	r.logf("cycle_start", report.CycleID, "", "", "")

	sources, err := r.catalog.ListSources(ctx)
	if err != nil {
		if !errors.Is(err, measurement.ErrCatalogUnavailable) {
			err = fmt.Errorf("%w: %w", measurement.ErrCatalogUnavailable, err)
		}
		report.CatalogErr = err
		sources = nil
		r.logf("catalog_unavailable", report.CycleID, "", "", err.Error())
	}

	artifacts := make([]dashboard.Artifact, 0, len(sources))
	seen := make(map[measurement.SourceID]struct{}, len(sources))
	for _, source := range sources {
		if _, dup := seen[source]; dup {
			continue
		}
		seen[source] = struct{}{}

		result := r.processSource(ctx, report.CycleID, source, report.Window)
		report.Results = append(report.Results, result)
		metrics.IncSourceOutcome(string(result.Outcome))
		if result.Artifact != nil {
			artifacts = append(artifacts, *result.Artifact)
		}
	}

	if err := ctx.Err(); err != nil {
		// the last published snapshot stays current
		report.FinishedAt = r.clock.Now()
		metrics.ObserveCycle(metrics.ResultError, report.FinishedAt.Sub(report.StartedAt))
		r.logf("cycle_abandoned", report.CycleID, "", "", err.Error())
		return report
	}

	report.Snapshot = r.snapshots.Publish(dashboard.NewSnapshot(report.CycleID, report.Window, artifacts))
	report.FinishedAt = r.clock.Now()

	result := metrics.ResultSuccess
	if report.Failures() > 0 {
		result = metrics.ResultPartial
	}
	metrics.ObserveCycle(result, report.FinishedAt.Sub(report.StartedAt))
	metrics.SetSnapshotArtifacts(len(report.Snapshot.Artifacts))
	if r.logger != nil {
		r.logger.Printf("event=cycle_published cycle_id=%s sequence=%d sources=%d artifacts=%d failures=%d duration=%s",
			report.CycleID, report.Snapshot.Sequence, len(report.Results), len(report.Snapshot.Artifacts), report.Failures(), report.FinishedAt.Sub(report.StartedAt))
	}

	if report.Failures() > 0 && r.notifier != nil {
		if err := r.notifier.Notify(ctx, buildCycleMessage(report)); err != nil {
			r.logf("cycle_notify_failed", report.CycleID, "", "", err.Error())
		}
	}
	return report
}

func (r *Refresher) processSource(ctx context.Context, cycleID string, source measurement.SourceID, window measurement.TimeWindow) (result SourceResult) {
	result.Source = source
	stage := dashboard.OutcomeGateUnavailable
	defer func() {
		if rec := recover(); rec != nil {
			result = SourceResult{Source: source, Outcome: stage, Err: fmt.Errorf("panic: %v", rec)}
			r.logf("source_panic", cycleID, source, stage, result.Err.Error())
		}
	}()

	enabled, err := r.gate.IsEnabled(ctx, source)
	if err != nil {
		return r.skip(cycleID, source, dashboard.OutcomeGateUnavailable, err)
	}
	if !enabled {
		return r.skip(cycleID, source, dashboard.OutcomeDisabled, nil)
	}

	stage = dashboard.OutcomeFetchFailed
	series, err := r.fetcher.Fetch(ctx, source, window)
	if err != nil {
		return r.skip(cycleID, source, dashboard.OutcomeFetchFailed, err)
	}
	if series.Empty() {
		return r.skip(cycleID, source, dashboard.OutcomeEmptySeries, nil)
	}
	if series.Source == "" {
		series.Source = source
	}

	stage = dashboard.OutcomeRenderFailed
	artifact, err := r.renderer.Render(ctx, series)
	if errors.Is(err, dashboard.ErrEmptySeries) {
		return r.skip(cycleID, source, dashboard.OutcomeEmptySeries, nil)
	}
	if err != nil {
		return r.skip(cycleID, source, dashboard.OutcomeRenderFailed, err)
	}
	r.logf("source_rendered", cycleID, source, dashboard.OutcomeRendered, "")
	return SourceResult{Source: source, Outcome: dashboard.OutcomeRendered, Artifact: &artifact}
}

func (r *Refresher) skip(cycleID string, source measurement.SourceID, outcome dashboard.Outcome, err error) SourceResult {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	event := "source_skipped"
	if outcome.Failed() {
		event = "source_failed"
	}
	r.logf(event, cycleID, source, outcome, msg)
	return SourceResult{Source: source, Outcome: outcome, Err: err}
}

func (r *Refresher) logf(event, cycleID string, source measurement.SourceID, outcome dashboard.Outcome, errMsg string) {
	if r.logger == nil {
		return
	}
	r.logger.Printf("event=%s cycle_id=%s source=%s outcome=%s error=%s", event, cycleID, source, outcome, errMsg)
}

func buildCycleMessage(report CycleReport) notify.CycleMessage {
	msg := notify.CycleMessage{
		CycleID:   report.CycleID,
		Window:    report.Window,
		Rendered:  report.Rendered(),
		StartedAt: report.StartedAt,
		Failures:  map[string]string{},
	}
	if report.Snapshot != nil {
		msg.Sequence = report.Snapshot.Sequence
	}
	if report.CatalogErr != nil {
		msg.Failures["catalog"] = report.CatalogErr.Error()
	}
	for _, result := range report.Results {
		if !result.Outcome.Failed() {
			continue
		}
		reason := string(result.Outcome)
		if result.Err != nil {
			reason += ": " + result.Err.Error()
		}
		msg.Failures[string(result.Source)] = reason
	}
	return msg
}

// RefresherOption configures a Refresher.
type RefresherOption func(*Refresher)

// WithNotifier sends a message for cycles with failed sources.
func WithNotifier(notifier notify.Notifier) RefresherOption {
	return func(r *Refresher) {
		r.notifier = notifier
	}
}

// WithClock overrides the clock used for report timestamps.
func WithClock(clock dashboard.Clock) RefresherOption {
	return func(r *Refresher) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// WithCycleIDs overrides cycle id generation.
func WithCycleIDs(newID func() string) RefresherOption {
	return func(r *Refresher) {
		if newID != nil {
			r.newID = newID
		}
	}
}
