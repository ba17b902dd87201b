package measurement

import (
	"context"
	"time"
)

// SourceID names one data source in the catalog.
type SourceID string

// TimeWindow bounds a series query. The zero value selects the full history.
// Bounds are opaque timestamp strings handed to the store as-is.
type TimeWindow struct {
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`
}

// Bounded reports whether both bounds are set.
func (w TimeWindow) Bounded() bool {
	return w.Start != "" && w.End != ""
}

// Sample is one speedtest result with rates in megabits per second.
type Sample struct {
	Timestamp    time.Time
	DownloadMbps float64
	UploadMbps   float64
}

// Series is the ordered sample list of one source for one window.
type Series struct {
	Source  SourceID
	Window  TimeWindow
	Samples []Sample
}

// Empty reports whether the series has no samples.
func (s Series) Empty() bool {
	return len(s.Samples) == 0
}

// SourceCatalog enumerates sources eligible for refresh.
type SourceCatalog interface {
	ListSources(ctx context.Context) ([]SourceID, error)
}

// AvailabilityGate reports whether a source is administratively enabled.
type AvailabilityGate interface {
	IsEnabled(ctx context.Context, source SourceID) (bool, error)
}

// SeriesFetcher loads a normalized series for a source.
type SeriesFetcher interface {
	Fetch(ctx context.Context, source SourceID, window TimeWindow) (Series, error)
}

// Store bundles the three store-backed collaborators.
type Store interface {
	SourceCatalog
	AvailabilityGate
	SeriesFetcher
}
