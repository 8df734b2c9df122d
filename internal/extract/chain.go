package extract

import (
	"github.com/webdevavi/aureus/constants"
	"github.com/webdevavi/aureus/internal/classify"
)

const (
	chartLikeScore    = 0.45
	visionMinScore    = 0.6
	visionMinChars    = 100
	embeddedEnoughLen = 50
)

// visionSkipTerms mark boilerplate pages not worth a vision call.
var visionSkipTerms = []string{"thank you", "disclaimer", "appendix"}

// Resolution is the chain's decision for one page.
type Resolution struct {
	Engine      constants.OCREngine
	NeedsVision bool
	// UseOCR adds the local OCR text to the record.
	UseOCR bool
}

// QualifiesForVision gates the remote call on a strong chart signal and enough embedded text.
func QualifiesForVision(an classify.Analysis, embedded string) bool {
	if an.Label != constants.LabelChartPresent && an.Label != constants.LabelMixed {
		return false
	}
	if an.Visual < visionMinScore || len(embedded) < visionMinChars {
		return false
	}
	return !classify.ContainsAny(embedded, visionSkipTerms)
}

// Resolve picks the text source for a page. Chart-like pages go to vision when allowed and
// to local OCR otherwise; other pages use embedded text when there is enough of it.
func Resolve(embedded string, an classify.Analysis, visionEnabled bool) Resolution {
	switch {
	case an.Visual > chartLikeScore && visionEnabled && QualifiesForVision(an, embedded):
		return Resolution{Engine: constants.EngineVisionEmbedded, NeedsVision: true}
	case an.Visual > chartLikeScore:
		return Resolution{Engine: constants.EngineOCREmbedded, UseOCR: true}
	case len(embedded) > embeddedEnoughLen:
		return Resolution{Engine: constants.EngineEmbedded}
	case an.OCRErr != nil:
		return Resolution{Engine: constants.EngineNone}
	default:
		return Resolution{Engine: constants.EngineOCR, UseOCR: true}
	}
}
