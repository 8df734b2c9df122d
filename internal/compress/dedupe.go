package compress

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"strings"
)

const (
	dedupeMinChars = 50
	dedupeKeyChars = 100
	dedupeRepeatAt = 3
	previewWords   = 8
	repeatedMarker = "[REPEATED: "
)

type dedupePage struct {
	PageNumber int               `json:"page_number"`
	Text       string            `json:"text,omitempty"`
	OCR        string            `json:"ocr,omitempty"`
	Tables     []json.RawMessage `json:"tables,omitempty"`
	Charts     []Chart           `json:"charts,omitempty"`
}

type dedupeDoc struct {
	Document   []dedupePage      `json:"document"`
	References map[string]string `json:"repeated_content_reference,omitempty"`
}

type deduper struct {
	seen map[string]int
	refs map[string]string
}

// block returns s or, from its third sighting on, a short marker. The original
// text is kept once in refs under the marker's preview.
func (d *deduper) block(s string) string {
	r := []rune(s)
	if len(r) < dedupeMinChars {
		return s
	}
	head := string(r[:min(len(r), dedupeKeyChars)])
	sum := sha1.Sum([]byte(head))
	key := hex.EncodeToString(sum[:])
	d.seen[key]++
	if d.seen[key] < dedupeRepeatAt {
		return s
	}
	words := strings.Fields(s)
	preview := strings.Join(words[:min(len(words), previewWords)], " ") + "..."
	if _, ok := d.refs[preview]; !ok {
		d.refs[preview] = s
	}
	return repeatedMarker + preview + "]"
}

// Dedupe emits {"document":[...]} with long repeated blocks replaced by markers.
func Dedupe(pages []Page, opts Options) ([]byte, error) {
	d := &deduper{seen: map[string]int{}, refs: map[string]string{}}
	doc := dedupeDoc{Document: make([]dedupePage, 0, len(pages))}
	for _, p := range pages {
		doc.Document = append(doc.Document, dedupePage{
			PageNumber: p.Number,
			Text:       d.block(field(p.Text, opts)),
			OCR:        d.block(field(p.OCR, opts)),
			Tables:     tables(p.Tables),
			Charts:     charts(p.Charts),
		})
	}
	if len(d.refs) > 0 {
		doc.References = d.refs
	}
	return encode(doc, " ")
}
