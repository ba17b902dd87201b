package render

import (
	"bytes"
	"math"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	measurement "speedboard/internal/measurement/domain"
)

const (
	axisMargin     = 0.1
	timeTickFormat = "2006-01-02 15:04"
)

func lineStyle(col drawing.Color) chart.Style {
	return chart.Style{
		StrokeColor: col,
		StrokeWidth: 2,
		DotColor:    col,
		DotWidth:    2,
	}
}

// drawChart plots download on the primary axis and upload on the secondary
// axis over one shared time axis. Each axis is scaled to its own series.
func drawChart(series measurement.Series, width, height int) ([]byte, error) {
	times, downloads, uploads := columns(series.Samples)
	if times[0].Equal(times[len(times)-1]) {
		// go-chart rejects a zero-width x range
		times = append(times, times[len(times)-1].Add(time.Second))
		downloads = append(downloads, downloads[len(downloads)-1])
		uploads = append(uploads, uploads[len(uploads)-1])
	}
	downMin, downMax := axisRange(downloads)
	upMin, upMax := axisRange(uploads)

	graph := chart.Chart{
		Title:      "Speedtest Results for " + string(series.Source),
		Width:      width,
		Height:     height,
		Background: chart.Style{Padding: chart.Box{Top: 50, Left: 20, Right: 20, Bottom: 20}},
		XAxis: chart.XAxis{
			Name:           "Timestamp",
			ValueFormatter: chart.TimeValueFormatterWithFormat(timeTickFormat),
		},
		YAxis: chart.YAxis{
			Name:  "Download Speed (Mbps)",
			Range: &chart.ContinuousRange{Min: downMin, Max: downMax},
		},
		YAxisSecondary: chart.YAxis{
			Name:  "Upload Speed (Mbps)",
			Range: &chart.ContinuousRange{Min: upMin, Max: upMax},
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Download Mbps",
				Style:   lineStyle(chart.ColorBlue),
				XValues: times,
				YValues: downloads,
			},
			chart.TimeSeries{
				Name:    "Upload Mbps",
				Style:   lineStyle(chart.ColorRed),
				YAxis:   chart.YAxisSecondary,
				XValues: times,
				YValues: uploads,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	var buf bytes.Buffer
	if err := graph.Render(chart.PNG, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func columns(samples []measurement.Sample) ([]time.Time, []float64, []float64) {
	times := make([]time.Time, len(samples))
	downloads := make([]float64, len(samples))
	uploads := make([]float64, len(samples))
	for i, sample := range samples {
		times[i] = sample.Timestamp
		downloads[i] = sample.DownloadMbps
		uploads[i] = sample.UploadMbps
	}
	return times, downloads, uploads
}

// axisRange returns [min - 10% of |max|, max + 10% of |max|].
func axisRange(values []float64) (float64, float64) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if math.IsInf(lo, 1) {
		return 0, 1
	}
	margin := math.Abs(hi) * axisMargin
	lower := lo - margin
	upper := hi + margin
	if upper <= lower {
		upper = lower + 1
	}
	return lower, upper
}
