package compress

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTable(rows int) Table {
	t := Table{Headers: []string{"Metric", "FY24", "FY23"}}
	for i := 0; i < rows; i++ {
		t.Rows = append(t.Rows, []string{fmt.Sprintf("Line %d", i+1), fmt.Sprint(100 + i), fmt.Sprint(90 + i)})
	}
	return t
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "a b c", Normalize("  a \t b   c \n"))
	assert.Equal(t, "a\n\n b", Normalize("a\n\n\n\n b"))
	assert.Equal(t, "a\n\nb", Normalize("a\n  \n \n\nb"))
	in := "x\n\n\n \n y  z"
	assert.Equal(t, Normalize(in), Normalize(Normalize(in)))
}

func TestCap(t *testing.T) {
	s := strings.Repeat("é", 20)
	c := Cap(s, 10)
	assert.Equal(t, 10, utf8.RuneCountInString(c))
	assert.True(t, strings.HasSuffix(c, "…"))
	assert.Equal(t, c, Cap(c, 10))
	assert.Equal(t, "short", Cap("short", 10))
}

func TestChartFrom(t *testing.T) {
	obj := map[string]any{"chart_type": "bar", "title": "Revenue"}
	c := ChartFrom(obj)
	assert.Equal(t, "unknown", c.Type)
	assert.Equal(t, obj, c.Data)

	c = ChartFrom(map[string]any{"type": "line", "data": []any{1.0, 2.0}})
	assert.Equal(t, "line", c.Type)
	assert.Equal(t, []any{1.0, 2.0}, c.Data)
}

func TestDedupe(t *testing.T) {
	long := strings.Repeat("Revenue from operations grew strongly this quarter. ", 5)
	short := "Page footer"
	var pages []Page
	for i := 1; i <= 4; i++ {
		pages = append(pages, Page{Number: i, Text: long, OCR: short})
	}

	out, err := Dedupe(pages, Options{})
	require.NoError(t, err)

	var doc struct {
		Document []struct {
			PageNumber int    `json:"page_number"`
			Text       string `json:"text"`
			OCR        string `json:"ocr"`
		} `json:"document"`
		Refs map[string]string `json:"repeated_content_reference"`
	}
	require.NoError(t, json.Unmarshal(out, &doc))
	require.Len(t, doc.Document, 4)

	want := Normalize(long)
	assert.Equal(t, want, doc.Document[0].Text)
	assert.Equal(t, want, doc.Document[1].Text)
	marker := "[REPEATED: Revenue from operations grew strongly this quarter. Revenue...]"
	assert.Equal(t, marker, doc.Document[2].Text)
	assert.Equal(t, marker, doc.Document[3].Text)
	for _, p := range doc.Document {
		assert.Equal(t, short, p.OCR, "short blocks are never replaced")
	}
	assert.Equal(t, map[string]string{"Revenue from operations grew strongly this quarter. Revenue...": want}, doc.Refs)
}

func TestDedupeWithoutRepeats(t *testing.T) {
	out, err := Dedupe([]Page{{Number: 1, Text: "hello"}, {Number: 2}}, Options{})
	require.NoError(t, err)
	assert.NotContains(t, string(out), "repeated_content_reference")
	assert.NotContains(t, string(out), `"ocr"`)
}

func TestTablesSerialize(t *testing.T) {
	pages := []Page{{
		Number: 1,
		Tables: []Table{sampleTable(3), sampleTable(25), {Headers: []string{"only"}}, NewTable([]string{"single"}, [][]string{{"x"}})},
	}}
	out, err := Ultra(pages, Options{})
	require.NoError(t, err)
	s := string(out)

	assert.Contains(t, s, `{"format":"records","data":[{"Metric":"Line 1","FY24":"100","FY23":"90"}`)
	assert.Contains(t, s, `"format":"compact"`)
	assert.Contains(t, s, `"row_count":25`)
	assert.Contains(t, s, `{"single":"x"}`, "narrow tables with data are kept")

	var doc struct {
		Pages []struct {
			Tables []json.RawMessage `json:"tables"`
		} `json:"pages"`
	}
	require.NoError(t, json.Unmarshal(out, &doc))
	assert.Len(t, doc.Pages[0].Tables, 3, "only the row-less table is dropped")
}

func TestMerge(t *testing.T) {
	assert.Equal(t, "abc", merge("abc", ""))
	assert.Equal(t, "abc", merge("", "abc"))
	assert.Equal(t, "net revenue rose", merge("revenue", "net revenue rose"))
	assert.Equal(t, "a b c d e f", merge("a b c d e f", "a b c d e"), "overlap above threshold keeps the longer copy")
	assert.Equal(t, "alpha beta\n[OCR]: gamma delta", merge("alpha beta", "gamma delta"))
}

func TestUltraIdempotent(t *testing.T) {
	pages := []Page{
		{
			Number: 1,
			Text:   "Q2 FY26   results\n\n\n\nRevenue ₹1,200 cr & margin <20%>",
			OCR:    "Scanned caption \t text",
			Tables: []Table{sampleTable(2), sampleTable(22)},
			Charts: []Chart{ChartFrom(map[string]any{"chart_type": "bar", "entities": []any{map[string]any{"label": "Revenue", "values": []any{1.5, 2.0, 1e21}}}})},
		},
		{Number: 2, Text: strings.Repeat("long page ", 1000)},
		{Number: 3},
	}
	opts := Options{MaxFieldChars: 500}

	first, err := Ultra(pages, opts)
	require.NoError(t, err)
	parsed, err := ParseUltra(first)
	require.NoError(t, err)
	second, err := Ultra(parsed, opts)
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second))

	assert.Contains(t, string(first), "& margin <20%>", "html characters are not escaped")

	var doc struct {
		Pages []struct {
			Content string `json:"content"`
		} `json:"pages"`
	}
	require.NoError(t, json.Unmarshal(first, &doc))
	assert.Equal(t, 500, utf8.RuneCountInString(doc.Pages[1].Content))
}

func TestCompressStrategies(t *testing.T) {
	pages := []Page{{Number: 1, Text: "x"}}
	d, err := Compress("dedupe", pages, Options{})
	require.NoError(t, err)
	assert.Contains(t, string(d), `"document"`)

	u, err := Compress("ULTRA", pages, Options{})
	require.NoError(t, err)
	assert.Equal(t, `{"pages":[{"pg":1,"content":"x"}]}`, string(u))

	_, err = Compress("zip", pages, Options{})
	assert.Error(t, err)
}

func TestCSVRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "t.csv")
	require.NoError(t, WriteCSV(path, sampleTable(2)))
	got, err := LoadCSV(path)
	require.NoError(t, err)
	assert.Equal(t, sampleTable(2), got)

	_, err = LoadCSV(filepath.Join(t.TempDir(), "missing.csv"))
	assert.Error(t, err)
}

func TestNewTablePadsRaggedRows(t *testing.T) {
	tb := NewTable([]string{"a", ""}, [][]string{{" 1 "}, {"2", "3", "4"}})
	assert.Equal(t, []string{"a", "col_2", "col_3"}, tb.Headers)
	assert.Equal(t, [][]string{{"1", "", ""}, {"2", "3", "4"}}, tb.Rows)
}

func TestNewTableUniqueHeaders(t *testing.T) {
	tb := NewTable([]string{"Item", "Revenue", "Revenue", "", "Revenue_2"}, [][]string{{"A", "1", "2", "3", "4"}})
	assert.Equal(t, []string{"Item", "Revenue", "Revenue_2", "col_4", "Revenue_2_2"}, tb.Headers)

	out, err := Ultra([]Page{{Number: 1, Tables: []Table{tb}}}, Options{})
	require.NoError(t, err)
	var doc struct {
		Pages []struct {
			Tables []struct {
				Data []map[string]string `json:"data"`
			} `json:"tables"`
		} `json:"pages"`
	}
	require.NoError(t, json.Unmarshal(out, &doc))
	assert.Equal(t, map[string]string{"Item": "A", "Revenue": "1", "Revenue_2": "2", "col_4": "3", "Revenue_2_2": "4"}, doc.Pages[0].Tables[0].Data[0])
}
