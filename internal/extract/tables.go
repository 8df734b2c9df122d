package extract

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/webdevavi/aureus/internal/compress"
)

const (
	minTableDigitRatio = 0.15
	narrowTableCols    = 4
)

var (
	reCellSplit     = regexp.MustCompile(`\s{2,}`)
	reDigitish      = regexp.MustCompile(`[\d%]`)
	// whole thousands-grouped numbers only: "1 , 234" and "1 234 567", never "2023 2024"
	reThousandComma = regexp.MustCompile(`\b\d{1,3}(?:\s*,\s*\d{3})+\b`)
	reDigitGap      = regexp.MustCompile(`\b\d{1,3}(?:\s+\d{3})+\b`)
	reGroupSep      = regexp.MustCompile(`[\s,]+`)
)

// LayoutSource returns column-preserving text for one PDF page.
type LayoutSource interface {
	LayoutText(ctx context.Context, pdfPath string, page int) (string, error)
}

// LayoutTables finds tables in pdftotext -layout output.
type LayoutTables struct {
	src    LayoutSource
	logger *slog.Logger
}

func NewLayoutTables(src LayoutSource, logger *slog.Logger) *LayoutTables {
	if logger == nil {
		logger = slog.Default()
	}
	return &LayoutTables{src: src, logger: logger}
}

func (t *LayoutTables) Extract(ctx context.Context, pdfPath string, page int, dir string) ([]TableRef, error) {
	layout, err := t.src.LayoutText(ctx, pdfPath, page)
	if err != nil {
		return nil, err
	}
	found := DetectTables(layout)
	if len(found) == 0 {
		return nil, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	refs := make([]TableRef, 0, len(found))
	for i, tb := range found {
		path := filepath.Join(dir, fmt.Sprintf("page%d_table%d.csv", page, i+1))
		if err := compress.WriteCSV(path, tb); err != nil {
			return refs, fmt.Errorf("write table: %w", err)
		}
		refs = append(refs, TableRef{Path: path, Rows: len(tb.Rows), Cols: len(tb.Headers)})
	}
	t.logger.Debug("extract.tables.found", "page", page, "count", len(refs))
	return refs, nil
}

// DetectTables groups consecutive multi-column lines into tables, keeps the
// numeric-looking ones and merges adjacent narrow tables side by side.
func DetectTables(layout string) []compress.Table {
	var (
		blocks [][][]string
		cur    [][]string
	)
	flush := func() {
		if len(cur) > 0 {
			blocks = append(blocks, cur)
			cur = nil
		}
	}
	for _, ln := range strings.Split(strings.ReplaceAll(layout, "\r\n", "\n"), "\n") {
		cells := reCellSplit.Split(strings.TrimSpace(ln), -1)
		if len(cells) < 2 {
			flush()
			continue
		}
		cur = append(cur, cells)
	}
	flush()

	var kept []compress.Table
	for _, b := range blocks {
		rows := make([][]string, len(b))
		for i, r := range b {
			rows[i] = cleanNumericCells(r)
		}
		if !probablyTable(rows) {
			continue
		}
		kept = append(kept, compress.NewTable(rows[0], rows[1:]))
	}
	return mergeAdjacent(kept)
}

func cleanNumericCells(row []string) []string {
	out := make([]string, len(row))
	for i, c := range row {
		c = reThousandComma.ReplaceAllStringFunc(c, ungroup)
		c = reDigitGap.ReplaceAllStringFunc(c, ungroup)
		out[i] = strings.TrimSpace(c)
	}
	return out
}

func ungroup(n string) string { return reGroupSep.ReplaceAllString(n, "") }

// probablyTable wants two rows, two columns and a digit ratio above 0.15.
func probablyTable(rows [][]string) bool {
	if len(rows) < 2 {
		return false
	}
	width := 0
	var parts []string
	for _, r := range rows {
		width = max(width, len(r))
		parts = append(parts, r...)
	}
	if width < 2 {
		return false
	}
	joined := strings.Join(parts, " ")
	if joined == "" {
		return false
	}
	digits := len(reDigitish.FindAllStringIndex(joined, -1))
	return float64(digits)/float64(len(joined)) > minTableDigitRatio
}

func mergeAdjacent(tables []compress.Table) []compress.Table {
	var out []compress.Table
	for i := 0; i < len(tables); i++ {
		a := tables[i]
		if i+1 < len(tables) {
			b := tables[i+1]
			if abs(len(a.Rows)-len(b.Rows)) <= 1 && len(a.Headers) < narrowTableCols && len(b.Headers) < narrowTableCols {
				out = append(out, sideBySide(a, b))
				i++
				continue
			}
		}
		out = append(out, a)
	}
	return out
}

func sideBySide(a, b compress.Table) compress.Table {
	headers := append(append([]string{}, a.Headers...), b.Headers...)
	n := max(len(a.Rows), len(b.Rows))
	rows := make([][]string, n)
	for i := range rows {
		row := make([]string, 0, len(headers))
		row = append(row, cellsAt(a, i)...)
		row = append(row, cellsAt(b, i)...)
		rows[i] = row
	}
	return compress.NewTable(headers, rows)
}

func cellsAt(t compress.Table, i int) []string {
	if i < len(t.Rows) {
		return t.Rows[i]
	}
	return make([]string, len(t.Headers))
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
