package extract

import (
	"context"

	"github.com/webdevavi/aureus/constants"
	"github.com/webdevavi/aureus/internal/classify"
	"github.com/webdevavi/aureus/internal/vision"
)

// PageAnalyzer scores a rendered page image and runs the local OCR pass.
type PageAnalyzer interface {
	Analyze(ctx context.Context, imagePath string) (classify.Analysis, error)
}

// TableFinder writes the tables found on one PDF page as CSV files into dir.
type TableFinder interface {
	Extract(ctx context.Context, pdfPath string, page int, dir string) ([]TableRef, error)
}

// VisionRunner analyzes preprocessed page images; results are keyed by page number.
type VisionRunner interface {
	Run(ctx context.Context, items []vision.Item) map[int]map[string]any
}

// Progress is called after each page completes.
type Progress func(done, total int)

type TableRef struct {
	Path string `json:"path"`
	Rows int    `json:"rows"`
	Cols int    `json:"cols"`
}

// Page is the extraction record for one page or text chunk.
type Page struct {
	Page          int                 `json:"page"`
	Text          string              `json:"text"`
	OCRText       string              `json:"ocr_text,omitempty"`
	OCRConfidence float64             `json:"ocr_confidence,omitempty"`
	Engine        constants.OCREngine `json:"ocr_engine"`
	Label         constants.PageLabel `json:"label,omitempty"`
	VisualScore   float64             `json:"visual_score"`
	Chars         int                 `json:"chars"`
	Tables        []TableRef          `json:"table_infos,omitempty"`
	NeedsVision   bool                `json:"needs_vision"`
	ImagePath     string              `json:"img_path,omitempty"`
	Chart         map[string]any      `json:"chart_json,omitempty"`
	Error         string              `json:"error,omitempty"`
}

func failedPage(page int, err error) Page {
	return Page{Page: page, Engine: constants.EngineFailed, Error: err.Error()}
}
