package export

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/webdevavi/aureus/internal/entity"
)

func fptr(v float64) *float64 { return &v }

func TestReportXLSX(t *testing.T) {
	rep := entity.FinancialReport{
		CompanyName:  "Acme Ltd",
		ReportPeriod: "Q2 FY26",
		Summary:      "Revenue up.",
		KeyMetrics:   []entity.Metric{{Name: "Revenue", Value: 1200.0, Period: "Q2 FY26", Change: "+12%"}},
		Segments:     []entity.Segment{{Name: "Retail", Revenue: "800 Cr"}},
		Highlights:   []string{"Record quarter"},
		Risks:        []string{"Input costs"},
		Charts: []entity.Chart{{
			Title:  "Revenue",
			Labels: []string{"Q1", "Q2"},
			Series: []entity.Series{{Name: "FY26", Values: []*float64{fptr(1100), nil}}},
		}},
	}
	b, err := NewService(nil).ReportXLSX(rep)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(b))
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{"Summary", "Key Metrics", "Segments", "Highlights & Risks", "Charts"}, f.GetSheetList())

	get := func(sheet, cell string) string {
		v, err := f.GetCellValue(sheet, cell)
		require.NoError(t, err)
		return v
	}
	assert.Equal(t, "Acme Ltd", get("Summary", "B1"))
	assert.Equal(t, "Q2 FY26", get("Summary", "B2"))
	assert.Equal(t, "Metric", get("Key Metrics", "A1"))
	assert.Equal(t, "1200", get("Key Metrics", "B2"))
	assert.Equal(t, "+12%", get("Key Metrics", "D2"))
	assert.Equal(t, "800 Cr", get("Segments", "B2"))
	assert.Equal(t, "highlight", get("Highlights & Risks", "A2"))
	assert.Equal(t, "risk", get("Highlights & Risks", "A3"))
	assert.Equal(t, "Revenue", get("Charts", "A1"))
	assert.Equal(t, "Q2", get("Charts", "C2"))
	assert.Equal(t, "1100", get("Charts", "B3"))
	assert.Equal(t, "", get("Charts", "C3"))
}

func TestReportXLSXEmpty(t *testing.T) {
	b, err := NewService(nil).ReportXLSX(entity.FinancialReport{})
	require.NoError(t, err)
	f, err := excelize.OpenReader(bytes.NewReader(b))
	require.NoError(t, err)
	defer f.Close()
	v, err := f.GetCellValue("Segments", "C1")
	require.NoError(t, err)
	assert.Equal(t, "Commentary", v)
}

func TestCellValue(t *testing.T) {
	assert.Equal(t, "", cellValue(nil))
	assert.Equal(t, 1.5, cellValue(1.5))
	assert.Equal(t, "true", cellValue(true))
	long := cellValue(strings.Repeat("é", maxCellChars+5)).(string)
	assert.Equal(t, maxCellChars, len([]rune(long)))
	assert.True(t, strings.HasSuffix(long, "…"))
}
