package http

import (
	"encoding/json"
	"errors"
	"html/template"
	"log"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	dashboard "speedboard/internal/dashboard/domain"
	measurement "speedboard/internal/measurement/domain"
	"speedboard/internal/observability/metrics"
)

const timeLayout = time.RFC3339

// SnapshotState is the shared state a view request reads and writes.
type SnapshotState interface {
	Snapshot() *dashboard.Snapshot
	SetPendingWindow(window measurement.TimeWindow)
}

// ViewHandler serves the current snapshot.
type ViewHandler struct {
	state     SnapshotState
	urlPrefix string
	logger    *log.Logger
}

// NewViewHandler constructs a view handler. urlPrefix is where artifact
// names are served from.
func NewViewHandler(state SnapshotState, urlPrefix string, logger *log.Logger) (*ViewHandler, error) {
	if state == nil {
		return nil, errors.New("view handler: nil snapshot state")
	}
	if urlPrefix == "" {
		urlPrefix = "/"
	}
	if !strings.HasSuffix(urlPrefix, "/") {
		urlPrefix += "/"
	}
	return &ViewHandler{state: state, urlPrefix: urlPrefix, logger: logger}, nil
}

type artifactView struct {
	Source   measurement.SourceID `json:"source"`
	Caption  string               `json:"caption"`
	URL      string               `json:"url"`
	DataURL  string               `json:"data_url,omitempty"`
	PDFURL   string               `json:"pdf_url,omitempty"`
	Samples  int                  `json:"samples"`
	Rendered time.Time            `json:"rendered_at"`
}

type snapshotView struct {
	Sequence    uint64                 `json:"sequence"`
	Window      measurement.TimeWindow `json:"window"`
	PublishedAt time.Time              `json:"published_at"`
	Artifacts   []artifactView         `json:"artifacts"`
}

// ServeHTTP handles GET /. A start or end parameter replaces the window used
// from the next cycle on; the response is always the current snapshot.
func (h *ViewHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	query := r.URL.Query()
	updated := query.Has("start") || query.Has("end")
	if updated {
		h.state.SetPendingWindow(measurement.TimeWindow{
			Start: query.Get("start"),
			End:   query.Get("end"),
		})
	}
	metrics.IncViewRequest(updated)

	view := h.buildView(h.state.Snapshot())
	if wantsJSON(r) {
		writeJSON(w, http.StatusOK, view)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := pageTemplate.Execute(w, view); err != nil && h.logger != nil {
		h.logger.Printf("view render error: %v", err)
	}
}

func (h *ViewHandler) buildView(snapshot *dashboard.Snapshot) snapshotView {
	view := snapshotView{Artifacts: []artifactView{}}
	if snapshot == nil {
		return view
	}
	view.Sequence = snapshot.Sequence
	view.Window = snapshot.Window
	view.PublishedAt = snapshot.PublishedAt
	for _, artifact := range snapshot.Artifacts {
		item := artifactView{
			Source:   artifact.Source,
			Caption:  artifact.Caption,
			URL:      h.artifactURL(artifact.Name),
			Samples:  artifact.Samples,
			Rendered: artifact.RenderedAt,
		}
		if artifact.DataName != "" {
			item.DataURL = h.artifactURL(artifact.DataName)
		}
		if artifact.DocumentName != "" {
			item.PDFURL = h.artifactURL(artifact.DocumentName)
		}
		view.Artifacts = append(view.Artifacts, item)
	}
	return view
}

func (h *ViewHandler) artifactURL(name string) string {
	return h.urlPrefix + path.Base(name)
}

func wantsJSON(r *http.Request) bool {
	if strings.EqualFold(r.URL.Query().Get("format"), "json") {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

var pageTemplate = template.Must(template.New("index").Funcs(template.FuncMap{
	"ago": func(t time.Time) string {
		if t.IsZero() {
			return "never"
		}
		return humanize.Time(t)
	},
	"comma": func(n int) string {
		return humanize.Comma(int64(n))
	},
}).Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Speedtest Results</title>
</head>
<body>
<h1>Speedtest Results</h1>
<form method="get" action="/">
<label>Start <input type="text" name="start" value="{{.Window.Start}}"></label>
<label>End <input type="text" name="end" value="{{.Window.End}}"></label>
<button type="submit">Apply</button>
</form>
<p>Snapshot #{{.Sequence}} published {{ago .PublishedAt}}. A new window applies from the next refresh.</p>
{{if .Artifacts}}{{range .Artifacts}}
<figure>
<img src="{{.URL}}" alt="{{.Caption}}">
<figcaption>{{.Caption}} ({{comma .Samples}} samples){{if .DataURL}} <a href="{{.DataURL}}">data</a>{{end}}{{if .PDFURL}} <a href="{{.PDFURL}}">pdf</a>{{end}}</figcaption>
</figure>
{{end}}{{else}}
<p>Nothing to show.</p>
{{end}}
</body>
</html>
`))
