package dashboard

import (
	"time"

	measurement "speedboard/internal/measurement/domain"
)

// Artifact is one rendered series. Files behind the names are write-once.
type Artifact struct {
	Source       measurement.SourceID `json:"source"`
	Name         string               `json:"name"`
	Caption      string               `json:"caption"`
	DataName     string               `json:"data_name,omitempty"`
	DocumentName string               `json:"document_name,omitempty"`
	Samples      int                  `json:"samples"`
	RenderedAt   time.Time            `json:"rendered_at"`
}

// Caption returns the display caption for a source.
func Caption(source measurement.SourceID) string {
	return string(source) + " plot"
}

// Snapshot is the published artifact set of one refresh cycle.
// Callers must not modify a snapshot after it has been published.
type Snapshot struct {
	Sequence    uint64                 `json:"sequence"`
	CycleID     string                 `json:"cycle_id,omitempty"`
	Window      measurement.TimeWindow `json:"window"`
	Artifacts   []Artifact             `json:"artifacts"`
	PublishedAt time.Time              `json:"published_at"`
}

// NewSnapshot copies artifacts into a fresh snapshot.
func NewSnapshot(cycleID string, window measurement.TimeWindow, artifacts []Artifact) *Snapshot {
	list := make([]Artifact, len(artifacts))
	copy(list, artifacts)
	return &Snapshot{CycleID: cycleID, Window: window, Artifacts: list}
}

// Empty reports whether there is nothing to show.
func (s *Snapshot) Empty() bool {
	return s == nil || len(s.Artifacts) == 0
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock in UTC.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time { return time.Now().UTC() }
