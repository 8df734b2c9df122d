package render

import (
	"bytes"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"

	"github.com/webdevavi/aureus/internal/entity"
)

const (
	pageMargin = 15.0
	lineHeight = 6.0
	chartH     = 60.0
	maxSeries  = 4
	font       = "Helvetica"
)

// seriesShades are the grays used for successive series in a bar chart.
var seriesShades = []int{40, 110, 170, 210}

type Renderer struct {
	logger *slog.Logger
	now    func() time.Time
}

func New(logger *slog.Logger) *Renderer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Renderer{logger: logger, now: time.Now}
}

// Render lays out a report as an A4 PDF and returns the document bytes.
func (r *Renderer) Render(rep entity.FinancialReport) ([]byte, error) {
	doc := gofpdf.New("P", "mm", "A4", "")
	doc.SetMargins(pageMargin, pageMargin, pageMargin)
	doc.SetAutoPageBreak(true, pageMargin)
	tr := doc.UnicodeTranslatorFromDescriptor("")

	title := strings.TrimSpace(rep.CompanyName)
	if title == "" {
		title = "Financial Report"
	}
	doc.SetTitle(title, true)
	doc.SetAuthor("aureus", false)
	doc.SetFooterFunc(func() {
		doc.SetY(-12)
		doc.SetFont(font, "I", 8)
		doc.SetTextColor(120, 120, 120)
		doc.CellFormat(0, 5, fmt.Sprintf("Page %d", doc.PageNo()), "", 0, "C", false, 0, "")
		doc.SetTextColor(0, 0, 0)
	})
	doc.AddPage()

	l := &layout{doc: doc, tr: tr}
	l.heading(title, rep.ReportPeriod, r.now())
	l.paragraph("Summary", rep.Summary)
	l.metrics(rep.KeyMetrics)
	l.segments(rep.Segments)
	l.bullets("Highlights", rep.Highlights)
	l.bullets("Risks", rep.Risks)
	l.paragraph("Outlook", rep.Outlook)
	for _, c := range rep.Charts {
		l.chart(c)
	}

	if err := doc.Error(); err != nil {
		return nil, fmt.Errorf("layout pdf: %w", err)
	}
	var buf bytes.Buffer
	if err := doc.Output(&buf); err != nil {
		return nil, fmt.Errorf("write pdf: %w", err)
	}
	r.logger.Info("render.pdf.ok", "company", title, "bytes", buf.Len(), "pages", doc.PageCount(), "charts", len(rep.Charts))
	return buf.Bytes(), nil
}

type layout struct {
	doc *gofpdf.Fpdf
	tr  func(string) string
}

func (l *layout) width() float64 {
	w, _ := l.doc.GetPageSize()
	return w - 2*pageMargin
}

func (l *layout) heading(title, period string, at time.Time) {
	l.doc.SetFont(font, "B", 20)
	l.doc.MultiCell(0, 10, l.tr(title), "", "L", false)
	l.doc.SetFont(font, "", 11)
	l.doc.SetTextColor(90, 90, 90)
	sub := "Generated " + at.Format("02 Jan 2006")
	if period != "" {
		sub = period + " | " + sub
	}
	l.doc.CellFormat(0, lineHeight, l.tr(sub), "", 1, "L", false, 0, "")
	l.doc.SetTextColor(0, 0, 0)
	l.doc.Ln(4)
}

func (l *layout) section(name string) {
	l.doc.Ln(2)
	l.doc.SetFont(font, "B", 14)
	l.doc.CellFormat(0, 8, l.tr(name), "B", 1, "L", false, 0, "")
	l.doc.Ln(2)
	l.doc.SetFont(font, "", 11)
}

func (l *layout) paragraph(name, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	l.section(name)
	l.doc.MultiCell(0, lineHeight, l.tr(text), "", "L", false)
}

func (l *layout) bullets(name string, items []string) {
	var kept []string
	for _, it := range items {
		if it = strings.TrimSpace(it); it != "" {
			kept = append(kept, it)
		}
	}
	if len(kept) == 0 {
		return
	}
	l.section(name)
	for _, it := range kept {
		l.doc.MultiCell(0, lineHeight, l.tr("• "+it), "", "L", false)
	}
}

func (l *layout) metrics(ms []entity.Metric) {
	if len(ms) == 0 {
		return
	}
	l.section("Key Metrics")
	rows := make([][]string, 0, len(ms))
	for _, m := range ms {
		rows = append(rows, []string{m.Name, entity.FormatValue(m.Value), entity.FormatValue(m.Period), entity.FormatValue(m.Change)})
	}
	l.table([]string{"Metric", "Value", "Period", "Change"}, []float64{0.4, 0.2, 0.2, 0.2}, rows)
}

func (l *layout) segments(ss []entity.Segment) {
	if len(ss) == 0 {
		return
	}
	l.section("Segments")
	rows := make([][]string, 0, len(ss))
	for _, s := range ss {
		rows = append(rows, []string{s.Name, entity.FormatValue(s.Revenue), entity.FormatValue(s.Commentary)})
	}
	l.table([]string{"Segment", "Revenue", "Commentary"}, []float64{0.3, 0.2, 0.5}, rows)
}

// table draws a bordered grid; cells are truncated to fit their column.
func (l *layout) table(headers []string, fractions []float64, rows [][]string) {
	total := l.width()
	widths := make([]float64, len(fractions))
	for i, f := range fractions {
		widths[i] = total * f
	}
	l.doc.SetFont(font, "B", 10)
	l.doc.SetFillColor(230, 230, 230)
	for i, h := range headers {
		l.doc.CellFormat(widths[i], 7, l.tr(h), "1", 0, "L", true, 0, "")
	}
	l.doc.Ln(-1)
	l.doc.SetFont(font, "", 10)
	for _, row := range rows {
		for i, cell := range row {
			l.doc.CellFormat(widths[i], 7, l.fit(l.tr(cell), widths[i]-2), "1", 0, "L", false, 0, "")
		}
		l.doc.Ln(-1)
	}
}

func (l *layout) fit(s string, w float64) string {
	if l.doc.GetStringWidth(s) <= w {
		return s
	}
	for len(s) > 0 && l.doc.GetStringWidth(s+"...") > w {
		s = s[:len(s)-1]
	}
	return s + "..."
}

// chart draws grouped vertical bars for up to maxSeries series.
func (l *layout) chart(c entity.Chart) {
	series := c.Series
	if len(series) > maxSeries {
		series = series[:maxSeries]
	}
	n := len(c.Labels)
	for _, s := range series {
		n = max(n, len(s.Values))
	}
	peak := 0.0
	for _, s := range series {
		for _, v := range s.Values {
			if v != nil {
				peak = math.Max(peak, math.Abs(*v))
			}
		}
	}
	if n == 0 || peak == 0 {
		return
	}

	title := c.Title
	if c.ChartType != "" {
		title += " (" + c.ChartType + ")"
	}
	l.section(title)
	_, pageH := l.doc.GetPageSize()
	if l.doc.GetY()+chartH+20 > pageH-pageMargin {
		l.doc.AddPage()
	}
	x0, y0 := l.doc.GetX(), l.doc.GetY()
	w := l.width()
	base := y0 + chartH
	l.doc.SetDrawColor(0, 0, 0)
	l.doc.Line(x0, base, x0+w, base)

	group := w / float64(n)
	bar := group * 0.8 / float64(len(series))
	for i := 0; i < n; i++ {
		for j, s := range series {
			if i >= len(s.Values) || s.Values[i] == nil {
				continue
			}
			h := math.Abs(*s.Values[i]) / peak * (chartH - 5)
			shade := seriesShades[j%len(seriesShades)]
			l.doc.SetFillColor(shade, shade, shade)
			l.doc.Rect(x0+float64(i)*group+group*0.1+float64(j)*bar, base-h, bar, h, "F")
		}
		if i < len(c.Labels) {
			l.doc.SetFont(font, "", 8)
			l.doc.SetXY(x0+float64(i)*group, base+1)
			l.doc.CellFormat(group, 4, l.fit(l.tr(c.Labels[i]), group), "", 0, "C", false, 0, "")
		}
	}

	l.doc.SetXY(x0, base+7)
	for j, s := range series {
		shade := seriesShades[j%len(seriesShades)]
		l.doc.SetFillColor(shade, shade, shade)
		l.doc.Rect(l.doc.GetX(), l.doc.GetY()+1, 3, 3, "F")
		l.doc.SetX(l.doc.GetX() + 4)
		name := l.tr(s.Name)
		l.doc.CellFormat(l.doc.GetStringWidth(name)+6, 5, name, "", 0, "L", false, 0, "")
	}
	l.doc.Ln(8)
	l.doc.SetFont(font, "", 11)
}
