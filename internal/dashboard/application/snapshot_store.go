package application

import (
	"sync"
	"sync/atomic"

	dashboard "speedboard/internal/dashboard/domain"
	measurement "speedboard/internal/measurement/domain"
)

// PublishListener is called after a snapshot becomes current.
type PublishListener func(snapshot *dashboard.Snapshot)

// SnapshotStore holds the published snapshot and the pending window.
// The snapshot is swapped through an atomic pointer; the window sits behind
// its own lock, so neither region ever waits on the other.
type SnapshotStore struct {
	current atomic.Pointer[dashboard.Snapshot]

	windowMu sync.RWMutex
	window   measurement.TimeWindow

	listenersMu sync.RWMutex
	listeners   []PublishListener

	clock dashboard.Clock
}

// NewSnapshotStore constructs a store serving an empty snapshot.
func NewSnapshotStore(clock dashboard.Clock) *SnapshotStore {
	if clock == nil {
		clock = dashboard.SystemClock{}
	}
	store := &SnapshotStore{clock: clock}
	store.current.Store(&dashboard.Snapshot{Artifacts: []dashboard.Artifact{}, PublishedAt: clock.Now()})
	return store
}

// Snapshot returns the current snapshot.
func (s *SnapshotStore) Snapshot() *dashboard.Snapshot {
	return s.current.Load()
}

// Publish makes next the current snapshot and returns it with its sequence
// and publication time assigned.
func (s *SnapshotStore) Publish(next *dashboard.Snapshot) *dashboard.Snapshot {
	if next == nil {
		next = dashboard.NewSnapshot("", measurement.TimeWindow{}, nil)
	}
	if next.Artifacts == nil {
		next.Artifacts = []dashboard.Artifact{}
	}
	next.PublishedAt = s.clock.Now()
	for {
		prev := s.current.Load()
		next.Sequence = prev.Sequence + 1
		if s.current.CompareAndSwap(prev, next) {
			break
		}
	}

	s.listenersMu.RLock()
	listeners := make([]PublishListener, len(s.listeners))
	copy(listeners, s.listeners)
	s.listenersMu.RUnlock()
	for _, listener := range listeners {
		listener(next)
	}
	return next
}

// OnPublish registers a listener for future publications.
func (s *SnapshotStore) OnPublish(listener PublishListener) {
	if listener == nil {
		return
	}
	s.listenersMu.Lock()
	s.listeners = append(s.listeners, listener)
	s.listenersMu.Unlock()
}

// PendingWindow returns the window the next cycle will use.
func (s *SnapshotStore) PendingWindow() measurement.TimeWindow {
	s.windowMu.RLock()
	defer s.windowMu.RUnlock()
	return s.window
}

// SetPendingWindow replaces the window for the next cycle.
func (s *SnapshotStore) SetPendingWindow(window measurement.TimeWindow) {
	s.windowMu.Lock()
	s.window = window
	s.windowMu.Unlock()
}
