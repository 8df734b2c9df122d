package entity

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// FinancialReport is the typed view of a synthesized report artifact.
type FinancialReport struct {
	CompanyName  string    `json:"company_name"`
	ReportPeriod string    `json:"report_period,omitempty"`
	Summary      string    `json:"summary"`
	KeyMetrics   []Metric  `json:"key_metrics"`
	Segments     []Segment `json:"segments,omitempty"`
	Highlights   []string  `json:"highlights,omitempty"`
	Risks        []string  `json:"risks,omitempty"`
	Outlook      string    `json:"outlook,omitempty"`
	Charts       []Chart   `json:"charts,omitempty"`
}

type Metric struct {
	Name   string `json:"name"`
	Value  any    `json:"value"`
	Period string `json:"period,omitempty"`
	Change any    `json:"change,omitempty"`
}

type Segment struct {
	Name       string `json:"name"`
	Revenue    any    `json:"revenue,omitempty"`
	Commentary string `json:"commentary,omitempty"`
}

type Chart struct {
	Title     string   `json:"title"`
	ChartType string   `json:"chart_type,omitempty"`
	Labels    []string `json:"labels,omitempty"`
	Series    []Series `json:"series,omitempty"`
}

// Series values may be null where the source had no figure.
type Series struct {
	Name   string     `json:"name"`
	Values []*float64 `json:"values"`
}

// ParseFinancialReport converts a decoded report object into its typed view.
func ParseFinancialReport(m map[string]any) (FinancialReport, error) {
	var r FinancialReport
	b, err := json.Marshal(m)
	if err != nil {
		return r, fmt.Errorf("marshal report: %w", err)
	}
	if err := json.Unmarshal(b, &r); err != nil {
		return r, fmt.Errorf("decode report: %w", err)
	}
	return r, nil
}

// FormatValue renders a loosely typed report value; nil becomes "-".
func FormatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return "-"
	case string:
		if t == "" {
			return "-"
		}
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}
