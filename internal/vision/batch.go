// Package vision prepares chart-like pages for a remote vision model and
// groups them into size-bounded batches.
package vision

import (
	"fmt"

	"github.com/webdevavi/aureus/internal/imaging"
)

const (
	MaxBatchCount  = 5
	MaxBatchBytes  = 900_000
	previewMaxEdge = 900
	previewQuality = 50
)

// Item is one preprocessed page image.
type Item struct {
	Page int
	Data []byte
}

// Preprocess shrinks a rendered page for upload: long edge ≤900px, grayscale, JPEG q50.
func Preprocess(imagePath string) ([]byte, error) {
	img, err := imaging.Load(imagePath)
	if err != nil {
		return nil, err
	}
	data, err := imaging.EncodeJPEG(imaging.Gray(imaging.FitLongEdge(img, previewMaxEdge)), previewQuality)
	if err != nil {
		return nil, fmt.Errorf("encode preview: %w", err)
	}
	return data, nil
}

// Batch splits items in order so no batch holds more than maxCount items or more than
// maxBytes of image data. An item larger than maxBytes on its own gets a batch of one.
func Batch(items []Item, maxCount, maxBytes int) [][]Item {
	if maxCount <= 0 {
		maxCount = MaxBatchCount
	}
	if maxBytes <= 0 {
		maxBytes = MaxBatchBytes
	}
	var (
		out  [][]Item
		cur  []Item
		size int
	)
	for _, it := range items {
		if len(cur) > 0 && (len(cur) >= maxCount || size+len(it.Data) > maxBytes) {
			out = append(out, cur)
			cur, size = nil, 0
		}
		cur = append(cur, it)
		size += len(it.Data)
	}
	if len(cur) > 0 {
		out = append(out, cur)
	}
	return out
}
