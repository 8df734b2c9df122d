// Package compress turns per-page extraction results into one bounded JSON
// context document for report synthesis.
package compress

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

const (
	StrategyDedupe = "dedupe"
	StrategyUltra  = "ultra"

	DefaultMaxFieldChars = 6000
	ellipsis             = "…"
)

// Page is the compressor's view of one extracted page.
type Page struct {
	Number int
	Text   string
	OCR    string
	Tables []Table
	Charts []Chart
}

// Chart is a vision result reduced to its type and payload.
type Chart struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// ChartFrom maps a vision page object onto a Chart. Missing fields default to
// type "unknown" and the whole object as data.
func ChartFrom(obj map[string]any) Chart {
	c := Chart{Type: "unknown", Data: obj}
	if t, ok := obj["type"].(string); ok && t != "" {
		c.Type = t
	}
	if d, ok := obj["data"]; ok && d != nil {
		c.Data = d
	}
	return c
}

type Options struct {
	MaxFieldChars int
}

func (o Options) limit() int {
	if o.MaxFieldChars <= 0 {
		return DefaultMaxFieldChars
	}
	return o.MaxFieldChars
}

// Compress dispatches to the named strategy.
func Compress(strategy string, pages []Page, opts Options) ([]byte, error) {
	switch strings.ToLower(strategy) {
	case "", StrategyDedupe:
		return Dedupe(pages, opts)
	case StrategyUltra:
		return Ultra(pages, opts)
	default:
		return nil, fmt.Errorf("unknown compression strategy %q", strategy)
	}
}

var (
	reHSpace   = regexp.MustCompile(`[ \t]+`)
	reBlankRun = regexp.MustCompile(`\n\s*\n\s*\n+`)
)

// Normalize collapses horizontal whitespace and long runs of blank lines.
func Normalize(s string) string {
	s = reHSpace.ReplaceAllString(s, " ")
	s = reBlankRun.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// Cap bounds s to limit runes, ending in an ellipsis when cut. Cap(Cap(s)) == Cap(s).
func Cap(s string, limit int) string {
	r := []rune(s)
	if limit <= 0 || len(r) <= limit {
		return s
	}
	return string(r[:limit-1]) + ellipsis
}

func field(s string, opts Options) string {
	return Cap(Normalize(s), opts.limit())
}

func charts(in []Chart) []Chart {
	var out []Chart
	for _, c := range in {
		if c.Data == nil {
			continue
		}
		if c.Type == "" {
			c.Type = "unknown"
		}
		out = append(out, c)
	}
	return out
}

func tables(in []Table) []json.RawMessage {
	var out []json.RawMessage
	for _, t := range in {
		if b, ok := t.serialize(); ok {
			out = append(out, b)
		}
	}
	return out
}

// encode marshals without HTML escaping; indent is empty for compact output.
func encode(v any, indent string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if indent != "" {
		enc.SetIndent("", indent)
	}
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
