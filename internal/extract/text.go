package extract

import (
	"os"
	"strings"

	"github.com/webdevavi/aureus/constants"
)

// LinesPerChunk is how many lines of a text source make one page.
const LinesPerChunk = 50

// ChunkText splits plain text into pages of LinesPerChunk lines.
func ChunkText(text string) []Page {
	text = strings.ToValidUTF8(strings.ReplaceAll(text, "\r\n", "\n"), "")
	text = strings.TrimSuffix(text, "\n")
	if text == "" {
		return nil
	}
	lines := strings.Split(text, "\n")
	var pages []Page
	for start := 0; start < len(lines); start += LinesPerChunk {
		end := min(start+LinesPerChunk, len(lines))
		chunk := strings.Join(lines[start:end], "\n")
		pages = append(pages, Page{
			Page:   len(pages) + 1,
			Text:   chunk,
			Engine: constants.EngineEmbedded,
			Chars:  len(chunk),
		})
	}
	return pages
}

// ReadTextFile loads a text source, dropping invalid UTF-8.
func ReadTextFile(path string) ([]Page, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ChunkText(string(b)), nil
}

// collapse squeezes all whitespace runs to single spaces.
func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
