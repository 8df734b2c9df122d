// Package ocr wraps the local recognizers: tesseract for page images and
// pdftotext for column-preserving page text.
package ocr

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
)

type Config struct {
	Tesseract   string // binary name or absolute path; if empty -> "tesseract"
	Pdftotext   string // binary name or absolute path; if empty -> "pdftotext"
	Lang        string // default "eng"
	TessdataDir string
}

type Engine struct {
	cfg    Config
	runner Runner
	logger *slog.Logger
}

func NewEngine(cfg Config, runner Runner, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if runner == nil {
		runner = ExecRunner{Logger: logger}
	}
	if cfg.Tesseract == "" {
		cfg.Tesseract = "tesseract"
	}
	if cfg.Pdftotext == "" {
		cfg.Pdftotext = "pdftotext"
	}
	if cfg.Lang == "" {
		cfg.Lang = "eng"
	}
	return &Engine{cfg: cfg, runner: runner, logger: logger}
}

var reBoxNoise = regexp.MustCompile(`[|¦]{2,}|_{4,}`)

// Recognize returns the text tesseract reads from an image.
func (e *Engine) Recognize(ctx context.Context, imagePath string) (string, error) {
	args := []string{imagePath, "stdout", "-l", e.cfg.Lang}
	if e.cfg.TessdataDir != "" {
		args = append(args, "--tessdata-dir", e.cfg.TessdataDir)
	}
	// tesseract <file> stdout -l <lang>
	out, errb, err := e.runner.Run(ctx, e.cfg.Tesseract, args...)
	if err != nil {
		return "", fmt.Errorf("tesseract: %w: %s", err, truncate(strings.TrimSpace(string(errb)), 512))
	}
	return Normalize(reBoxNoise.ReplaceAllString(string(out), "")), nil
}

// Confidence runs tesseract in TSV mode and returns the mean word confidence in 0..1.
func (e *Engine) Confidence(ctx context.Context, imagePath string) (float64, error) {
	args := []string{imagePath, "stdout", "-l", e.cfg.Lang}
	if e.cfg.TessdataDir != "" {
		args = append(args, "--tessdata-dir", e.cfg.TessdataDir)
	}
	args = append(args, "tsv")

	out, _, err := e.runner.Run(ctx, e.cfg.Tesseract, args...)
	if err != nil {
		return 0, fmt.Errorf("tesseract tsv: %w", err)
	}
	return meanTSVConfidence(string(out)), nil
}

func meanTSVConfidence(tsv string) float64 {
	var sum, n float64
	for i, ln := range strings.Split(tsv, "\n") {
		if i == 0 || ln == "" {
			continue
		}
		cols := strings.Split(ln, "\t")
		if len(cols) < 12 {
			continue
		}
		conf := cols[10]
		if conf == "" || conf == "-1" {
			continue
		}
		if v, err := strconv.ParseFloat(conf, 64); err == nil {
			sum += v
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / n / 100
}

// LayoutText returns one page of the PDF with column alignment preserved.
func (e *Engine) LayoutText(ctx context.Context, pdfPath string, page int) (string, error) {
	p := strconv.Itoa(page)
	// pdftotext -layout -f N -l N -enc UTF-8 -eol unix <path> -
	out, errb, err := e.runner.Run(ctx, e.cfg.Pdftotext, "-layout", "-f", p, "-l", p, "-enc", "UTF-8", "-eol", "unix", pdfPath, "-")
	if err != nil {
		return "", fmt.Errorf("pdftotext page %d: %w: %s", page, err, truncate(strings.TrimSpace(string(errb)), 512))
	}
	return strings.TrimRight(string(out), "\f\n "), nil
}
