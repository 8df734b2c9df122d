// Package classify scores rendered pages for chart content and labels them
// so the extraction chain can decide which resolver handles each page.
package classify

import (
	"context"
	"image"
	"log/slog"
	"strings"

	"github.com/webdevavi/aureus/constants"
	"github.com/webdevavi/aureus/internal/imaging"
)

// houghMaxEdge bounds the image the circle search runs on.
const houghMaxEdge = 512

var captionKeywords = []string{"chart", "figure", "graph", "trend", "data", "as shown", "fy", "production", "sales"}

// ExclusionTerms mark boilerplate pages that are never charts.
var ExclusionTerms = []string{"thank you", "disclaimer", "appendix", "contents", "notes"}

// Recognizer reads text from a page image.
type Recognizer interface {
	Recognize(ctx context.Context, imagePath string) (string, error)
}

// Analysis is the classifier's verdict for one page image.
type Analysis struct {
	Visual   float64
	Caption  float64
	Combined float64
	Words    int
	Excluded bool
	Label    constants.PageLabel
	// Text is the local OCR pass; OCRErr is set when it failed.
	Text   string
	OCRErr error
}

// VisualScore blends edge density, color variety and circle presence.
func VisualScore(img image.Image) float64 {
	gray := imaging.Gray(img)
	edges := EdgeDensity(gray)
	colors := ColorVariety(img)
	circ := 0.0
	if HasCircle(imaging.Gray(imaging.FitLongEdge(gray, houghMaxEdge))) {
		circ = 1
	}
	return clamp01(0.35*edges + 0.40*colors + 0.25*circ)
}

// CaptionScore counts chart vocabulary in the text, saturating at three hits.
func CaptionScore(text string) float64 {
	lower := strings.ToLower(text)
	hits := 0
	for _, k := range captionKeywords {
		if strings.Contains(lower, k) {
			hits++
		}
	}
	return clamp01(float64(hits) / 3)
}

// ContainsAny reports whether text contains any of the terms, case-insensitively.
func ContainsAny(text string, terms []string) bool {
	lower := strings.ToLower(text)
	for _, t := range terms {
		if strings.Contains(lower, t) {
			return true
		}
	}
	return false
}

func Combined(visual, caption float64) float64 {
	return 0.7*visual + 0.3*caption
}

// Label applies the page rules in order; the first match wins.
func Label(visual, caption float64, words int, excluded bool) constants.PageLabel {
	combined := Combined(visual, caption)
	switch {
	case excluded || words > 300 || visual < 0.2:
		return constants.LabelTextOnly
	case visual > 0.7 && words < 120:
		return constants.LabelChartPresent
	case combined > 0.55 && combined <= 0.7 && words < 200:
		return constants.LabelMixed
	case visual > 0.35 && visual < 0.6 && words > 80 && words < 300:
		return constants.LabelTableOnly
	default:
		return constants.LabelTextOnly
	}
}

type Analyzer struct {
	recognizer Recognizer
	logger     *slog.Logger
}

func NewAnalyzer(r Recognizer, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{recognizer: r, logger: logger}
}

// Analyze scores the image and runs the local recognizer over it. A failed
// recognizer is recorded in the result rather than returned.
func (a *Analyzer) Analyze(ctx context.Context, imagePath string) (Analysis, error) {
	img, err := imaging.Load(imagePath)
	if err != nil {
		return Analysis{}, err
	}
	var res Analysis
	res.Visual = VisualScore(img)

	if a.recognizer != nil {
		res.Text, res.OCRErr = a.recognizer.Recognize(ctx, imagePath)
		if res.OCRErr != nil {
			a.logger.Warn("classify.ocr.failed", "image", imagePath, "error", res.OCRErr)
		}
	}
	res.Words = len(strings.Fields(res.Text))
	res.Caption = CaptionScore(res.Text)
	res.Excluded = ContainsAny(res.Text, ExclusionTerms)
	res.Combined = Combined(res.Visual, res.Caption)
	res.Label = Label(res.Visual, res.Caption, res.Words, res.Excluded)

	a.logger.Debug("classify.page",
		"image", imagePath,
		"visual", res.Visual,
		"caption", res.Caption,
		"words", res.Words,
		"label", res.Label,
	)
	return res, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
