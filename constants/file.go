package constants

import (
	"fmt"
	"strings"
)

// FileType is the format of a stored report artifact.
type FileType string

const (
	FileTypePDF  FileType = "pdf"
	FileTypeJSON FileType = "json"
	FileTypeTXT  FileType = "txt"
)

// FileCategory names the slot a file occupies within a report.
type FileCategory string

const (
	CategorySource  FileCategory = "source"
	CategoryExtract FileCategory = "extract"
	CategoryOutput  FileCategory = "output"
)

// MaxErrorLength bounds the error text stored on a file record.
const MaxErrorLength = 5000

// ParseFileType accepts the lowercased type or extension (".pdf" works too).
func ParseFileType(s string) (FileType, error) {
	switch t := FileType(strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), "."))); t {
	case FileTypePDF, FileTypeJSON, FileTypeTXT:
		return t, nil
	default:
		return "", fmt.Errorf("unknown file type %q", s)
	}
}

// ContentType is the MIME type used for uploads and presigned downloads.
func (t FileType) ContentType() string {
	switch t {
	case FileTypePDF:
		return "application/pdf"
	case FileTypeJSON:
		return "application/json"
	case FileTypeTXT:
		return "text/plain"
	default:
		return "application/octet-stream"
	}
}

// Upper is used in user-facing messages ("No extractable content found in PDF file").
func (t FileType) Upper() string { return strings.ToUpper(string(t)) }

func ParseFileCategory(s string) (FileCategory, error) {
	switch c := FileCategory(strings.ToLower(strings.TrimSpace(s))); c {
	case CategorySource, CategoryExtract, CategoryOutput:
		return c, nil
	default:
		return "", fmt.Errorf("unknown file category %q", s)
	}
}

// Truncate cuts an error message down to MaxErrorLength bytes without splitting a rune.
func Truncate(msg string) string {
	if len(msg) <= MaxErrorLength {
		return msg
	}
	cut := MaxErrorLength
	for cut > 0 && !isRuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut]
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }
