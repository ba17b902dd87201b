package http

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"speedboard/internal/dashboard/application"
	dashboard "speedboard/internal/dashboard/domain"
	measurement "speedboard/internal/measurement/domain"
)

type sseReader struct {
	t      *testing.T
	reader *bufio.Reader
}

func (r sseReader) next() (string, publication) {
	r.t.Helper()
	var event, data string
	for {
		line, err := r.reader.ReadString('\n')
		if err != nil {
			r.t.Fatalf("read: %v", err)
		}
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "":
			var pub publication
			if event == "snapshot" {
				if err := json.Unmarshal([]byte(data), &pub); err != nil {
					r.t.Fatalf("decode %q: %v", data, err)
				}
			}
			return event, pub
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		}
	}
}

func openStream(t *testing.T, ctx context.Context, url string) sseReader {
	t.Helper()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	if resp.Header.Get("Content-Type") != "text/event-stream" {
		t.Fatalf("unexpected content type %s", resp.Header.Get("Content-Type"))
	}
	return sseReader{t: t, reader: bufio.NewReader(resp.Body)}
}

func TestStreamHandler_EmitsPublications(t *testing.T) {
	store := application.NewSnapshotStore(nil)
	broker := NewSSEBroker()
	store.OnPublish(broker.Publish)
	server := httptest.NewServer(NewStreamHandler(broker))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stream := openStream(t, ctx, server.URL)

	if event, _ := stream.next(); event != "ready" {
		t.Fatalf("expected ready event before any publication, got %s", event)
	}
	store.Publish(dashboard.NewSnapshot("c1", measurement.TimeWindow{}, []dashboard.Artifact{{Source: "alpha_speedtest"}}))

	event, got := stream.next()
	if event != "snapshot" {
		t.Fatalf("expected snapshot event, got %s", event)
	}
	if got.Sequence != 1 || got.CycleID != "c1" || got.Artifacts != 1 {
		t.Fatalf("unexpected publication %+v", got)
	}
}

func TestStreamHandler_ResyncsOnConnect(t *testing.T) {
	store := application.NewSnapshotStore(nil)
	broker := NewSSEBroker()
	broker.Publish(store.Snapshot())
	store.OnPublish(broker.Publish)
	store.Publish(dashboard.NewSnapshot("c1", measurement.TimeWindow{}, nil))
	store.Publish(dashboard.NewSnapshot("c2", measurement.TimeWindow{}, []dashboard.Artifact{{Source: "alpha_speedtest"}}))

	server := httptest.NewServer(NewStreamHandler(broker))
	defer server.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	event, got := openStream(t, ctx, server.URL).next()
	if event != "snapshot" || got.Sequence != 2 || got.CycleID != "c2" {
		t.Fatalf("expected current publication on connect, got %s %+v", event, got)
	}
}

func TestStreamHandler_ReleasesClientOnDisconnect(t *testing.T) {
	broker := NewSSEBroker()
	server := httptest.NewServer(NewStreamHandler(broker))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	stream := openStream(t, ctx, server.URL)
	stream.next()
	if broker.subscribers() != 1 {
		t.Fatalf("expected one subscriber, got %d", broker.subscribers())
	}
	cancel()

	deadline := time.Now().Add(2 * time.Second)
	for broker.subscribers() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if broker.subscribers() != 0 {
		t.Fatalf("expected subscriber released after disconnect")
	}
	broker.Publish(&dashboard.Snapshot{Sequence: 9})
}

func TestSSEBroker_PublishDuringChurn(t *testing.T) {
	broker := NewSSEBroker()
	stop := make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				id, updates, _ := broker.subscribe()
				select {
				case <-updates:
				default:
				}
				broker.unsubscribe(id)
			}
		}()
	}

	snapshot := &dashboard.Snapshot{Artifacts: []dashboard.Artifact{}}
	for i := 0; i < 20000; i++ {
		snapshot.Sequence = uint64(i + 1)
		broker.Publish(snapshot)
	}
	close(stop)
	wg.Wait()

	if broker.subscribers() != 0 {
		t.Fatalf("expected no subscribers left, got %d", broker.subscribers())
	}
	_, _, latest := broker.subscribe()
	var got publication
	if err := json.Unmarshal(latest, &got); err != nil || got.Sequence != 20000 {
		t.Fatalf("expected latest sequence 20000, got %+v (%v)", got, err)
	}
}

func TestSSEBroker_SlowClientGetsLatest(t *testing.T) {
	broker := NewSSEBroker()
	_, updates, _ := broker.subscribe()
	for seq := uint64(1); seq <= 3; seq++ {
		broker.Publish(&dashboard.Snapshot{Sequence: seq})
	}

	var got publication
	if err := json.Unmarshal(<-updates, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Sequence != 3 {
		t.Fatalf("expected newest pending publication, got %d", got.Sequence)
	}
	select {
	case extra := <-updates:
		t.Fatalf("expected a single pending publication, got %s", extra)
	default:
	}
}
