package extract

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webdevavi/aureus/constants"
	"github.com/webdevavi/aureus/internal/classify"
	"github.com/webdevavi/aureus/internal/imaging"
	"github.com/webdevavi/aureus/internal/pdf"
	"github.com/webdevavi/aureus/internal/vision"
)

const longText = "Consolidated revenue for the quarter rose on higher volumes across all business segments and geographies."

func TestResolve(t *testing.T) {
	chart := classify.Analysis{Visual: 0.8, Label: constants.LabelChartPresent}
	tests := []struct {
		name     string
		embedded string
		an       classify.Analysis
		vision   bool
		want     Resolution
	}{
		{"chart to vision", longText, chart, true, Resolution{Engine: constants.EngineVisionEmbedded, NeedsVision: true}},
		{"chart without vision", longText, chart, false, Resolution{Engine: constants.EngineOCREmbedded, UseOCR: true}},
		{"chart with short text", "Revenue", chart, true, Resolution{Engine: constants.EngineOCREmbedded, UseOCR: true}},
		{"chart on disclaimer", longText + " Disclaimer applies.", chart, true, Resolution{Engine: constants.EngineOCREmbedded, UseOCR: true}},
		{"chart-like but weak", longText, classify.Analysis{Visual: 0.5, Label: constants.LabelMixed}, true, Resolution{Engine: constants.EngineOCREmbedded, UseOCR: true}},
		{"text page", longText, classify.Analysis{Visual: 0.3}, true, Resolution{Engine: constants.EngineEmbedded}},
		{"scanned page", "", classify.Analysis{Visual: 0.3}, true, Resolution{Engine: constants.EngineOCR, UseOCR: true}},
		{"scanned page without ocr", "", classify.Analysis{Visual: 0.3, OCRErr: errors.New("x")}, true, Resolution{Engine: constants.EngineNone}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Resolve(tt.embedded, tt.an, tt.vision))
		})
	}
}

func TestDetectTables(t *testing.T) {
	layout := strings.Join([]string{
		"Annual Report 2024",
		"",
		"Particulars        FY24        FY23",
		"Revenue            1 , 234     1 100",
		"EBITDA             320         290",
		"Margin             25.9%       26.3%",
		"",
		"The board is pleased to report    strong growth",
		"and remains committed to          shareholders",
		"",
		"Q1   10",
		"Q2   12",
		"",
		"H1   22",
		"H2   25",
	}, "\n")

	got := DetectTables(layout)
	require.Len(t, got, 2)

	assert.Equal(t, []string{"Particulars", "FY24", "FY23"}, got[0].Headers)
	assert.Equal(t, []string{"Revenue", "1234", "1100"}, got[0].Rows[0])
	assert.Len(t, got[0].Rows, 3)

	assert.Equal(t, []string{"Q1", "10", "H1", "22"}, got[1].Headers, "adjacent narrow tables merge side by side")
	assert.Equal(t, [][]string{{"Q2", "12", "H2", "25"}}, got[1].Rows)
}

func TestCleanNumericCells(t *testing.T) {
	in := []string{"1 , 234", "1 234 567", "12,345,678", "2023 2024", "1 2 3", "FY 2024", " 3,5 "}
	want := []string{"1234", "1234567", "12345678", "2023 2024", "1 2 3", "FY 2024", "3,5"}
	assert.Equal(t, want, cleanNumericCells(in))
}

type fakeLayout struct{ text string }

func (f fakeLayout) LayoutText(context.Context, string, int) (string, error) { return f.text, nil }

func TestLayoutTablesWritesCSV(t *testing.T) {
	dir := t.TempDir()
	lt := NewLayoutTables(fakeLayout{text: "Item    2024    2023\nSales    500    450\nCost    300    280"}, nil)
	refs, err := lt.Extract(context.Background(), "doc.pdf", 3, dir)
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, filepath.Join(dir, "page3_table1.csv"), refs[0].Path)
	assert.Equal(t, 2, refs[0].Rows)
	assert.Equal(t, 3, refs[0].Cols)

	b, err := os.ReadFile(refs[0].Path)
	require.NoError(t, err)
	assert.Equal(t, "Item,2024,2023\nSales,500,450\nCost,300,280\n", string(b))

	refs, err = NewLayoutTables(fakeLayout{text: "just prose here"}, nil).Extract(context.Background(), "doc.pdf", 1, dir)
	require.NoError(t, err)
	assert.Empty(t, refs)
}

func TestChunkText(t *testing.T) {
	var lines []string
	for i := 1; i <= 120; i++ {
		lines = append(lines, fmt.Sprintf("line %d", i))
	}
	pages := ChunkText(strings.Join(lines, "\r\n") + "\n")
	require.Len(t, pages, 3)
	assert.Equal(t, 1, pages[0].Page)
	assert.Equal(t, 50, strings.Count(pages[0].Text, "\n")+1)
	assert.True(t, strings.HasPrefix(pages[1].Text, "line 51\n"))
	assert.Equal(t, "line 120", pages[2].Text[strings.LastIndex(pages[2].Text, "\n")+1:])
	for _, p := range pages {
		assert.Equal(t, constants.EngineEmbedded, p.Engine)
		assert.False(t, p.NeedsVision)
	}
	assert.Empty(t, ChunkText(""))
}

type fakeDoc struct {
	texts map[int]string
}

func (d *fakeDoc) NumPage() int { return len(d.texts) }

func (d *fakeDoc) Text(page int) (string, error) { return d.texts[page], nil }

func (d *fakeDoc) RenderPage(page int, dir string) (string, error) {
	path := filepath.Join(dir, fmt.Sprintf("page_%03d.jpg", page))
	_, err := imaging.SaveJPEG(path, image.NewGray(image.Rect(0, 0, 40, 40)), 75)
	return path, err
}

func (d *fakeDoc) Close() error { return nil }

type fakeOpener struct {
	doc   *fakeDoc
	opens atomic.Int32
}

func (o *fakeOpener) Open(string) (pdf.Document, error) {
	o.opens.Add(1)
	return o.doc, nil
}

type fakeAnalyzer struct {
	byPage map[int]classify.Analysis
}

func (a fakeAnalyzer) Analyze(_ context.Context, img string) (classify.Analysis, error) {
	var page int
	_, _ = fmt.Sscanf(filepath.Base(img), "page_%03d.jpg", &page)
	switch page {
	case 4:
		return classify.Analysis{}, errors.New("corrupt image")
	case 5:
		panic("classifier crashed")
	}
	return a.byPage[page], nil
}

type fakeVision struct {
	mu    sync.Mutex
	pages []int
}

func (v *fakeVision) Run(_ context.Context, items []vision.Item) map[int]map[string]any {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := map[int]map[string]any{}
	for _, it := range items {
		v.pages = append(v.pages, it.Page)
		out[it.Page] = map[string]any{"page_type": "chart"}
	}
	return out
}

func TestExtractPDF(t *testing.T) {
	texts := map[int]string{}
	for p := 1; p <= 7; p++ {
		texts[p] = longText
	}
	texts[6] = "   "
	opener := &fakeOpener{doc: &fakeDoc{texts: texts}}
	an := fakeAnalyzer{byPage: map[int]classify.Analysis{
		1: {Visual: 0.1, Label: constants.LabelTextOnly},
		2: {Visual: 0.8, Label: constants.LabelChartPresent, Text: "Figure 2"},
		3: {Visual: 0.5, Label: constants.LabelTableOnly, Text: "ocr words"},
		6: {Visual: 0.1, Label: constants.LabelTextOnly, Text: "scanned body"},
		7: {Visual: 0.1, Label: constants.LabelTextOnly},
	}}
	fv := &fakeVision{}
	x := New(Config{Workers: 3, EnableVision: true}, opener, an, nil, nil,
		WithVision(fv),
		WithValidator(func(string) (int, error) { return 7, nil }),
	)

	var calls atomic.Int32
	pages, err := x.ExtractFile(context.Background(), "report.pdf", constants.FileTypePDF, t.TempDir(), func(done, total int) {
		calls.Add(1)
		assert.Equal(t, 7, total)
	})
	require.NoError(t, err)
	require.Len(t, pages, 7)
	for i, p := range pages {
		assert.Equal(t, i+1, p.Page, "ordered by page")
	}
	assert.EqualValues(t, 7, calls.Load())
	assert.EqualValues(t, 3, opener.opens.Load(), "each worker opens its own handle")

	assert.Equal(t, constants.EngineEmbedded, pages[0].Engine)
	assert.Equal(t, constants.EngineVisionEmbedded, pages[1].Engine)
	assert.Equal(t, map[string]any{"page_type": "chart"}, pages[1].Chart)
	assert.Equal(t, []int{2}, fv.pages)
	assert.Equal(t, constants.EngineOCREmbedded, pages[2].Engine)
	assert.Equal(t, "ocr words", pages[2].OCRText)
	assert.Equal(t, longText, pages[2].Text)

	assert.Equal(t, constants.EngineFailed, pages[3].Engine)
	assert.Equal(t, "corrupt image", pages[3].Error)
	assert.Equal(t, constants.EngineFailed, pages[4].Engine)
	assert.Contains(t, pages[4].Error, "classifier crashed")

	assert.Equal(t, constants.EngineOCR, pages[5].Engine)
	assert.Equal(t, "scanned body", pages[5].OCRText)
}

func TestExtractFileErrors(t *testing.T) {
	x := New(Config{}, &fakeOpener{doc: &fakeDoc{}}, fakeAnalyzer{}, nil, nil,
		WithValidator(func(string) (int, error) { return 0, errors.New("invalid pdf") }),
	)
	_, err := x.ExtractFile(context.Background(), "a.json", constants.FileTypeJSON, t.TempDir(), nil)
	assert.ErrorIs(t, err, ErrUnsupportedType)

	_, err = x.ExtractFile(context.Background(), "a.pdf", constants.FileTypePDF, t.TempDir(), nil)
	assert.EqualError(t, err, "invalid pdf")

	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("a\nb\n"), 0o644))
	pages, err := x.ExtractFile(context.Background(), path, constants.FileTypeTXT, t.TempDir(), nil)
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Equal(t, "a\nb", pages[0].Text)
}

func TestToCompress(t *testing.T) {
	dir := t.TempDir()
	refs, err := NewLayoutTables(fakeLayout{text: "Item    2024\nSales    500\nCost    300"}, nil).Extract(context.Background(), "d.pdf", 1, dir)
	require.NoError(t, err)

	out := ToCompress([]Page{
		{Page: 1, Text: "body", OCRText: "ocr", Tables: append(refs, TableRef{Path: filepath.Join(dir, "gone.csv")})},
		{Page: 2, Chart: map[string]any{"page_type": "chart"}},
	}, nil)
	require.Len(t, out, 2)
	assert.Equal(t, "ocr", out[0].OCR)
	require.Len(t, out[0].Tables, 1, "unreadable tables are skipped")
	assert.Equal(t, []string{"Item", "2024"}, out[0].Tables[0].Headers)
	require.Len(t, out[1].Charts, 1)
	assert.Equal(t, "unknown", out[1].Charts[0].Type)
}
