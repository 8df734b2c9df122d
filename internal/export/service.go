package export

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/webdevavi/aureus/internal/entity"
)

// Service produces XLSX workbooks from synthesized reports.
type Service struct {
	logger *slog.Logger
}

func NewService(logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{logger: logger}
}

const (
	sheetSummary = "Summary"
	sheetMetrics = "Key Metrics"
	sheetSegment = "Segments"
	sheetNotes   = "Highlights & Risks"
	sheetCharts  = "Charts"
	maxCellChars = 32767
)

// ReportXLSX returns a workbook with one sheet per report section.
// Empty optional sections still get a sheet with headers only.
func (s *Service) ReportXLSX(rep entity.FinancialReport) ([]byte, error) {
	start := time.Now()
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetSummary); err != nil {
		return nil, err
	}
	for _, name := range []string{sheetMetrics, sheetSegment, sheetNotes, sheetCharts} {
		if _, err := f.NewSheet(name); err != nil {
			return nil, err
		}
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, err
	}

	w := &sheetWriter{f: f, bold: bold}
	w.summary(rep)
	w.metrics(rep.KeyMetrics)
	w.segments(rep.Segments)
	w.notes(rep.Highlights, rep.Risks)
	w.charts(rep.Charts)
	if w.err != nil {
		return nil, fmt.Errorf("xlsx fill: %w", w.err)
	}

	idx, _ := f.GetSheetIndex(sheetSummary)
	f.SetActiveSheet(idx)
	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("export.xlsx.ok",
		"company", rep.CompanyName,
		"metrics", len(rep.KeyMetrics),
		"charts", len(rep.Charts),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

// sheetWriter keeps the first error so the fill code reads straight through.
type sheetWriter struct {
	f    *excelize.File
	bold int
	err  error
}

func (w *sheetWriter) set(sheet string, col, row int, v any) {
	if w.err != nil {
		return
	}
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		w.err = err
		return
	}
	w.err = w.f.SetCellValue(sheet, cell, cellValue(v))
}

func (w *sheetWriter) header(sheet string, row int, names ...string) {
	for i, n := range names {
		w.set(sheet, i+1, row, n)
	}
	if w.err != nil || len(names) == 0 {
		return
	}
	first, _ := excelize.CoordinatesToCellName(1, row)
	last, _ := excelize.CoordinatesToCellName(len(names), row)
	w.err = w.f.SetCellStyle(sheet, first, last, w.bold)
}

func (w *sheetWriter) width(sheet, from, to string, width float64) {
	if w.err == nil {
		w.err = w.f.SetColWidth(sheet, from, to, width)
	}
}

func (w *sheetWriter) summary(rep entity.FinancialReport) {
	rows := [][2]string{
		{"Company", rep.CompanyName},
		{"Period", rep.ReportPeriod},
		{"Summary", rep.Summary},
		{"Outlook", rep.Outlook},
	}
	for i, r := range rows {
		w.set(sheetSummary, 1, i+1, r[0])
		w.set(sheetSummary, 2, i+1, r[1])
	}
	if w.err == nil {
		w.err = w.f.SetCellStyle(sheetSummary, "A1", "A4", w.bold)
	}
	w.width(sheetSummary, "A", "A", 14)
	w.width(sheetSummary, "B", "B", 100)
}

func (w *sheetWriter) metrics(ms []entity.Metric) {
	w.header(sheetMetrics, 1, "Metric", "Value", "Period", "Change")
	for i, m := range ms {
		w.set(sheetMetrics, 1, i+2, m.Name)
		w.set(sheetMetrics, 2, i+2, m.Value)
		w.set(sheetMetrics, 3, i+2, m.Period)
		w.set(sheetMetrics, 4, i+2, m.Change)
	}
	w.width(sheetMetrics, "A", "A", 32)
	w.width(sheetMetrics, "B", "D", 16)
}

func (w *sheetWriter) segments(ss []entity.Segment) {
	w.header(sheetSegment, 1, "Segment", "Revenue", "Commentary")
	for i, s := range ss {
		w.set(sheetSegment, 1, i+2, s.Name)
		w.set(sheetSegment, 2, i+2, s.Revenue)
		w.set(sheetSegment, 3, i+2, s.Commentary)
	}
	w.width(sheetSegment, "A", "B", 20)
	w.width(sheetSegment, "C", "C", 80)
}

func (w *sheetWriter) notes(highlights, risks []string) {
	w.header(sheetNotes, 1, "Kind", "Note")
	row := 2
	for _, h := range highlights {
		w.set(sheetNotes, 1, row, "highlight")
		w.set(sheetNotes, 2, row, h)
		row++
	}
	for _, r := range risks {
		w.set(sheetNotes, 1, row, "risk")
		w.set(sheetNotes, 2, row, r)
		row++
	}
	w.width(sheetNotes, "A", "A", 12)
	w.width(sheetNotes, "B", "B", 100)
}

// charts writes each chart as a block: title row, label header, one row per series.
func (w *sheetWriter) charts(cs []entity.Chart) {
	row := 1
	for _, c := range cs {
		w.set(sheetCharts, 1, row, c.Title)
		w.set(sheetCharts, 2, row, c.ChartType)
		if w.err == nil {
			cell, _ := excelize.CoordinatesToCellName(1, row)
			w.err = w.f.SetCellStyle(sheetCharts, cell, cell, w.bold)
		}
		row++
		w.header(sheetCharts, row, append([]string{"Series"}, c.Labels...)...)
		row++
		for _, s := range c.Series {
			w.set(sheetCharts, 1, row, s.Name)
			for j, v := range s.Values {
				if v != nil {
					w.set(sheetCharts, j+2, row, *v)
				}
			}
			row++
		}
		row++
	}
	w.width(sheetCharts, "A", "A", 28)
}

// cellValue keeps numbers numeric and bounds strings to the XLSX cell limit.
func cellValue(v any) any {
	switch t := v.(type) {
	case nil:
		return ""
	case float64, int, int64:
		return t
	case string:
		return truncate(t, maxCellChars)
	default:
		return truncate(entity.FormatValue(t), maxCellChars)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}
