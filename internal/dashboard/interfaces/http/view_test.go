package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"speedboard/internal/dashboard/application"
	dashboard "speedboard/internal/dashboard/domain"
	measurement "speedboard/internal/measurement/domain"
)

func newTestView(t *testing.T) (*ViewHandler, *application.SnapshotStore) {
	t.Helper()
	store := application.NewSnapshotStore(nil)
	handler, err := NewViewHandler(store, "/images", nil)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	return handler, store
}

func decodeView(t *testing.T, rec *httptest.ResponseRecorder) snapshotView {
	t.Helper()
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var view snapshotView
	if err := json.NewDecoder(rec.Body).Decode(&view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return view
}

func TestViewHandler_EmptySnapshot(t *testing.T) {
	handler, _ := newTestView(t)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Nothing to show") {
		t.Fatalf("expected empty page, got %s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/?format=json", nil))
	view := decodeView(t, rec)
	if view.Artifacts == nil || len(view.Artifacts) != 0 {
		t.Fatalf("expected empty artifact list, got %+v", view.Artifacts)
	}
}

func TestViewHandler_ListsArtifacts(t *testing.T) {
	handler, store := newTestView(t)
	store.Publish(dashboard.NewSnapshot("c1", measurement.TimeWindow{}, []dashboard.Artifact{
		{Source: "alpha_speedtest", Name: "alpha_speedtest-20260101100000.png", Caption: "alpha_speedtest plot", DataName: "alpha_speedtest-20260101100000.xlsx", Samples: 1200},
		{Source: "beta_speedtest", Name: "beta_speedtest-20260101100000.png", Caption: "beta_speedtest plot"},
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	view := decodeView(t, rec)
	if len(view.Artifacts) != 2 {
		t.Fatalf("expected 2 artifacts, got %d", len(view.Artifacts))
	}
	first := view.Artifacts[0]
	if first.URL != "/images/alpha_speedtest-20260101100000.png" || first.Caption != "alpha_speedtest plot" {
		t.Fatalf("unexpected artifact %+v", first)
	}
	if first.DataURL != "/images/alpha_speedtest-20260101100000.xlsx" {
		t.Fatalf("unexpected data url %s", first.DataURL)
	}
	if view.Artifacts[1].Source != "beta_speedtest" || view.Sequence != 1 {
		t.Fatalf("unexpected view %+v", view)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	body := rec.Body.String()
	if !strings.Contains(body, `src="/images/alpha_speedtest-20260101100000.png"`) || !strings.Contains(body, "1,200 samples") {
		t.Fatalf("unexpected page %s", body)
	}
}

func TestViewHandler_WindowAppliesToNextCycleOnly(t *testing.T) {
	handler, store := newTestView(t)
	previous := measurement.TimeWindow{Start: "2026-01-01", End: "2026-01-02"}
	store.Publish(dashboard.NewSnapshot("c1", previous, []dashboard.Artifact{{Source: "alpha_speedtest", Name: "a.png", Caption: "alpha_speedtest plot"}}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/?format=json&start=2026-02-01&end=2026-02-02", nil))
	view := decodeView(t, rec)
	if view.Window != previous || view.Sequence != 1 || len(view.Artifacts) != 1 {
		t.Fatalf("expected the snapshot computed under the previous window, got %+v", view)
	}
	want := measurement.TimeWindow{Start: "2026-02-01", End: "2026-02-02"}
	if store.PendingWindow() != want {
		t.Fatalf("expected pending window %+v, got %+v", want, store.PendingWindow())
	}

	// a request without parameters leaves the window alone
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/?format=json", nil))
	decodeView(t, rec)
	if store.PendingWindow() != want {
		t.Fatalf("window changed without parameters: %+v", store.PendingWindow())
	}

	// an empty value clears that bound
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/?format=json&start=", nil))
	decodeView(t, rec)
	if store.PendingWindow() != (measurement.TimeWindow{}) {
		t.Fatalf("expected cleared window, got %+v", store.PendingWindow())
	}
}

func TestViewHandler_EscapesOpaqueWindow(t *testing.T) {
	handler, store := newTestView(t)
	store.Publish(dashboard.NewSnapshot("c1", measurement.TimeWindow{Start: `"><script>`, End: "x"}, nil))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if strings.Contains(rec.Body.String(), "<script>") {
		t.Fatalf("window values must be escaped")
	}
}

func TestViewHandler_RoutesAndMethods(t *testing.T) {
	handler, _ := newTestView(t)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/other", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if _, err := NewViewHandler(nil, "/images/", nil); err == nil {
		t.Fatalf("expected error for nil state")
	}
}
