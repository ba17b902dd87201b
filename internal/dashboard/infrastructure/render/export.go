package render

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	measurement "speedboard/internal/measurement/domain"
)

const (
	summarySheet = "summary"
	samplesSheet = "samples"
)

// BuildSeriesXLSX writes the normalized samples behind a chart.
func BuildSeriesXLSX(series measurement.Series) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()
	f.SetSheetName("Sheet1", summarySheet)
	f.NewSheet(samplesSheet)

	_ = f.SetCellValue(summarySheet, "A1", "Speedtest Results")
	_ = f.SetCellValue(summarySheet, "A3", "Source")
	_ = f.SetCellValue(summarySheet, "B3", string(series.Source))
	_ = f.SetCellValue(summarySheet, "A4", "Window Start")
	_ = f.SetCellValue(summarySheet, "B4", series.Window.Start)
	_ = f.SetCellValue(summarySheet, "A5", "Window End")
	_ = f.SetCellValue(summarySheet, "B5", series.Window.End)
	_ = f.SetCellValue(summarySheet, "A6", "Samples")
	_ = f.SetCellValue(summarySheet, "B6", len(series.Samples))

	_ = f.SetCellValue(samplesSheet, "A1", "Timestamp")
	_ = f.SetCellValue(samplesSheet, "B1", "Download (Mbps)")
	_ = f.SetCellValue(samplesSheet, "C1", "Upload (Mbps)")
	for i, sample := range series.Samples {
		row := i + 2
		_ = f.SetCellValue(samplesSheet, fmt.Sprintf("A%d", row), sample.Timestamp.UTC().Format(time.RFC3339))
		_ = f.SetCellValue(samplesSheet, fmt.Sprintf("B%d", row), sample.DownloadMbps)
		_ = f.SetCellValue(samplesSheet, fmt.Sprintf("C%d", row), sample.UploadMbps)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildChartPDF wraps a rendered chart with a short series summary.
func BuildChartPDF(series measurement.Series, chartPNG []byte) ([]byte, error) {
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, fmt.Sprintf("Speedtest Results for %s", series.Source))
	pdf.Ln(10)

	opts := gofpdf.ImageOptions{ImageType: "PNG"}
	pdf.RegisterImageOptionsReader("chart", opts, bytes.NewReader(chartPNG))
	pdf.ImageOptions("chart", 10, 20, 200, 0, false, opts, 0, "")

	pdf.SetXY(215, 20)
	pdf.SetFont("Arial", "", 10)
	stats := summarize(series.Samples)
	lines := []string{
		fmt.Sprintf("Samples: %d", len(series.Samples)),
		fmt.Sprintf("From: %s", stats.first.Format(time.RFC3339)),
		fmt.Sprintf("To: %s", stats.last.Format(time.RFC3339)),
		fmt.Sprintf("Download min/avg/max: %.2f / %.2f / %.2f", stats.downMin, stats.downAvg, stats.downMax),
		fmt.Sprintf("Upload min/avg/max: %.2f / %.2f / %.2f", stats.upMin, stats.upAvg, stats.upMax),
	}
	for _, line := range lines {
		pdf.SetX(215)
		pdf.MultiCell(70, 5, line, "", "L", false)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type seriesStats struct {
	first, last               time.Time
	downMin, downAvg, downMax float64
	upMin, upAvg, upMax       float64
}

func summarize(samples []measurement.Sample) seriesStats {
	var stats seriesStats
	if len(samples) == 0 {
		return stats
	}
	stats.first = samples[0].Timestamp
	stats.last = samples[len(samples)-1].Timestamp
	stats.downMin, stats.downMax = samples[0].DownloadMbps, samples[0].DownloadMbps
	stats.upMin, stats.upMax = samples[0].UploadMbps, samples[0].UploadMbps
	var downSum, upSum float64
	for _, s := range samples {
		downSum += s.DownloadMbps
		upSum += s.UploadMbps
		if s.DownloadMbps < stats.downMin {
			stats.downMin = s.DownloadMbps
		}
		if s.DownloadMbps > stats.downMax {
			stats.downMax = s.DownloadMbps
		}
		if s.UploadMbps < stats.upMin {
			stats.upMin = s.UploadMbps
		}
		if s.UploadMbps > stats.upMax {
			stats.upMax = s.UploadMbps
		}
	}
	stats.downAvg = downSum / float64(len(samples))
	stats.upAvg = upSum / float64(len(samples))
	return stats
}
