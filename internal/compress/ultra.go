package compress

import (
	"encoding/json"
	"fmt"
	"strings"
)

// overlapThreshold is the token overlap above which text and OCR count as one copy.
const overlapThreshold = 0.8

type ultraPage struct {
	Pg      int               `json:"pg"`
	Content string            `json:"content"`
	Tables  []json.RawMessage `json:"tables,omitempty"`
	Charts  []Chart           `json:"charts,omitempty"`
}

type ultraDoc struct {
	Pages []ultraPage `json:"pages"`
}

// Ultra emits the compact {"pages":[...]} form with text and OCR merged per page.
func Ultra(pages []Page, opts Options) ([]byte, error) {
	doc := ultraDoc{Pages: make([]ultraPage, 0, len(pages))}
	for _, p := range pages {
		doc.Pages = append(doc.Pages, ultraPage{
			Pg:      p.Number,
			Content: Cap(merge(Normalize(p.Text), Normalize(p.OCR)), opts.limit()),
			Tables:  tables(p.Tables),
			Charts:  charts(p.Charts),
		})
	}
	return encode(doc, "")
}

// ParseUltra reads Ultra output back into pages; Ultra(ParseUltra(b)) reproduces b.
func ParseUltra(data []byte) ([]Page, error) {
	var doc ultraDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse ultra context: %w", err)
	}
	pages := make([]Page, 0, len(doc.Pages))
	for _, up := range doc.Pages {
		p := Page{Number: up.Pg, Text: up.Content, Charts: up.Charts}
		for _, raw := range up.Tables {
			t, err := parseTable(raw)
			if err != nil {
				return nil, fmt.Errorf("page %d: %w", up.Pg, err)
			}
			p.Tables = append(p.Tables, t)
		}
		pages = append(pages, p)
	}
	return pages, nil
}

func merge(text, ocr string) string {
	switch {
	case text == "":
		return ocr
	case ocr == "":
		return text
	case strings.Contains(ocr, text) || strings.Contains(text, ocr) || overlap(text, ocr) > overlapThreshold:
		if len(text) > len(ocr) {
			return text
		}
		return ocr
	default:
		return text + "\n[OCR]: " + ocr
	}
}

// overlap is |shared tokens| / max(token counts of a and b).
func overlap(a, b string) float64 {
	ta, tb := strings.Fields(a), strings.Fields(b)
	denom := max(len(ta), len(tb))
	if denom == 0 {
		return 0
	}
	set := make(map[string]struct{}, len(ta))
	for _, t := range ta {
		set[t] = struct{}{}
	}
	shared := map[string]struct{}{}
	for _, t := range tb {
		if _, ok := set[t]; ok {
			shared[t] = struct{}{}
		}
	}
	return float64(len(shared)) / float64(denom)
}
