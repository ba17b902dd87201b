package http

import (
	"encoding/json"
	"net/http"
	"sync"

	dashboard "speedboard/internal/dashboard/domain"
)

type publication struct {
	Sequence    uint64 `json:"sequence"`
	CycleID     string `json:"cycle_id"`
	Artifacts   int    `json:"artifacts"`
	PublishedAt string `json:"published_at"`
}

// SSEBroker relays snapshot publications to stream clients. Each client holds
// at most one pending publication; a newer one replaces it.
type SSEBroker struct {
	mu      sync.Mutex
	nextID  uint64
	clients map[uint64]chan []byte
	latest  []byte
}

// NewSSEBroker constructs a broker.
func NewSSEBroker() *SSEBroker {
	return &SSEBroker{clients: make(map[uint64]chan []byte)}
}

// Publish is registered as a snapshot store listener.
func (b *SSEBroker) Publish(snapshot *dashboard.Snapshot) {
	if b == nil || snapshot == nil {
		return
	}
	payload, err := json.Marshal(publication{
		Sequence:    snapshot.Sequence,
		CycleID:     snapshot.CycleID,
		Artifacts:   len(snapshot.Artifacts),
		PublishedAt: snapshot.PublishedAt.UTC().Format(timeLayout),
	})
	if err != nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.latest = payload
	for _, ch := range b.clients {
		// drop a stale pending publication; only this goroutine sends
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- payload:
		default:
		}
	}
}

// subscribe registers a client and returns the last publication, if any.
// Client channels are never closed; readers stop on their own context.
func (b *SSEBroker) subscribe() (uint64, <-chan []byte, []byte) {
	ch := make(chan []byte, 1)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.clients[b.nextID] = ch
	return b.nextID, ch, b.latest
}

func (b *SSEBroker) unsubscribe(id uint64) {
	b.mu.Lock()
	delete(b.clients, id)
	b.mu.Unlock()
}

func (b *SSEBroker) subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// StreamHandler serves the snapshot publication stream.
type StreamHandler struct {
	broker *SSEBroker
}

// NewStreamHandler constructs a stream handler.
func NewStreamHandler(broker *SSEBroker) *StreamHandler {
	return &StreamHandler{broker: broker}
}

// ServeHTTP handles GET /api/v1/snapshots/stream. The first event carries
// the current publication so a reconnecting client can resync.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.broker == nil {
		http.Error(w, "stream not ready", http.StatusServiceUnavailable)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "stream unsupported", http.StatusInternalServerError)
		return
	}

	id, updates, latest := h.broker.subscribe()
	defer h.broker.unsubscribe(id)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	if latest != nil {
		writeEvent(w, "snapshot", latest)
	} else {
		writeEvent(w, "ready", []byte("{}"))
	}
	flusher.Flush()

	for {
		select {
		case payload := <-updates:
			writeEvent(w, "snapshot", payload)
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func writeEvent(w http.ResponseWriter, event string, data []byte) {
	_, _ = w.Write([]byte("event: " + event + "\ndata: "))
	_, _ = w.Write(data)
	_, _ = w.Write([]byte("\n\n"))
}
