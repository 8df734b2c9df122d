package constants

// PageLabel is the classifier verdict for a page image.
type PageLabel string

const (
	LabelTextOnly     PageLabel = "text_only"
	LabelChartPresent PageLabel = "chart_present"
	LabelMixed        PageLabel = "mixed"
	LabelTableOnly    PageLabel = "table_only"
)

// OCREngine records where a page's text came from.
type OCREngine string

const (
	EngineEmbedded       OCREngine = "embedded"
	EngineVisionEmbedded OCREngine = "vision+embedded"
	EngineOCREmbedded    OCREngine = "ocr+embedded"
	EngineOCR            OCREngine = "ocr"
	EngineNone           OCREngine = "none"
	EngineFailed         OCREngine = "failed"
)
