// Package extract turns a source document into ordered page records: embedded
// text, tables, local OCR and vision results resolved per page.
package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/webdevavi/aureus/constants"
	"github.com/webdevavi/aureus/internal/compress"
	"github.com/webdevavi/aureus/internal/pdf"
	"github.com/webdevavi/aureus/internal/vision"
)

// ErrUnsupportedType is returned for sources other than pdf and txt.
var ErrUnsupportedType = errors.New("unsupported file type")

// ConfidenceScorer optionally rates local OCR output.
type ConfidenceScorer interface {
	Confidence(ctx context.Context, imagePath string) (float64, error)
}

type Config struct {
	Workers      int
	EnableVision bool
}

type Extractor struct {
	cfg      Config
	opener   pdf.Opener
	analyzer PageAnalyzer
	tables   TableFinder
	vision   VisionRunner
	scorer   ConfidenceScorer
	validate func(path string) (int, error)
	logger   *slog.Logger
}

type Option func(*Extractor)

func WithVision(v VisionRunner) Option { return func(e *Extractor) { e.vision = v } }

func WithConfidence(s ConfidenceScorer) Option { return func(e *Extractor) { e.scorer = s } }

// WithValidator replaces the PDF structure check, which returns the page count.
func WithValidator(fn func(path string) (int, error)) Option {
	return func(e *Extractor) { e.validate = fn }
}

func New(cfg Config, opener pdf.Opener, analyzer PageAnalyzer, tables TableFinder, logger *slog.Logger, opts ...Option) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Workers < 1 {
		cfg.Workers = 2
	}
	e := &Extractor{
		cfg:      cfg,
		opener:   opener,
		analyzer: analyzer,
		tables:   tables,
		validate: pdf.Validate,
		logger:   logger,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// ExtractFile produces page records for the source at path. workDir receives rendered
// pages and table CSVs; the caller owns its cleanup.
func (e *Extractor) ExtractFile(ctx context.Context, path string, ft constants.FileType, workDir string, progress Progress) ([]Page, error) {
	switch ft {
	case constants.FileTypeTXT:
		pages, err := ReadTextFile(path)
		if err != nil {
			return nil, err
		}
		if progress != nil {
			progress(len(pages), len(pages))
		}
		return pages, nil
	case constants.FileTypePDF:
		return e.extractPDF(ctx, path, workDir, progress)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, ft)
	}
}

func (e *Extractor) extractPDF(ctx context.Context, path, workDir string, progress Progress) ([]Page, error) {
	total, err := e.validate(path)
	if err != nil {
		return nil, err
	}
	e.logger.Info("extract.pdf.start", "path", path, "pages", total, "workers", e.cfg.Workers)
	if total == 0 {
		return nil, nil
	}
	for _, d := range []string{"pages", "tables"} {
		if err := os.MkdirAll(filepath.Join(workDir, d), 0o755); err != nil {
			return nil, err
		}
	}

	pages, err := e.runPool(ctx, path, workDir, total, progress)
	if err != nil {
		return nil, err
	}
	e.attachVision(ctx, pages)

	e.logger.Info("extract.pdf.done", "path", path, "pages", len(pages))
	return pages, nil
}

// runPool fans pages out to a fixed set of workers, each holding its own document handle,
// and restores page order afterwards.
func (e *Extractor) runPool(ctx context.Context, path, workDir string, total int, progress Progress) ([]Page, error) {
	tasks := make(chan int, total)
	for p := 1; p <= total; p++ {
		tasks <- p
	}
	close(tasks)
	results := make(chan Page, total)

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < min(e.cfg.Workers, total); w++ {
		g.Go(func() error {
			doc, err := e.opener.Open(path)
			if err != nil {
				return fmt.Errorf("open document: %w", err)
			}
			defer doc.Close()
			for page := range tasks {
				if err := gctx.Err(); err != nil {
					return err
				}
				results <- e.processPage(gctx, doc, path, page, workDir)
			}
			return nil
		})
	}
	go func() {
		_ = g.Wait()
		close(results)
	}()

	pages := make([]Page, 0, total)
	for rec := range results {
		pages = append(pages, rec)
		if progress != nil {
			progress(len(pages), total)
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].Page < pages[j].Page })
	return pages, nil
}

// processPage never fails the run; errors and panics become a failed record.
func (e *Extractor) processPage(ctx context.Context, doc pdf.Document, path string, page int, workDir string) (rec Page) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("extract.page.panic", "page", page, "panic", r)
			rec = failedPage(page, fmt.Errorf("panic: %v", r))
		}
	}()
	rec, err := e.resolvePage(ctx, doc, path, page, workDir)
	if err != nil {
		e.logger.Warn("extract.page.failed", "page", page, "error", err)
		return failedPage(page, err)
	}
	return rec
}

func (e *Extractor) resolvePage(ctx context.Context, doc pdf.Document, path string, page int, workDir string) (Page, error) {
	rec := Page{Page: page}

	if e.tables != nil {
		refs, err := e.tables.Extract(ctx, path, page, filepath.Join(workDir, "tables"))
		if err != nil {
			e.logger.Warn("extract.tables.failed", "page", page, "error", err)
		}
		rec.Tables = refs
	}

	embedded, err := doc.Text(page)
	if err != nil {
		e.logger.Warn("extract.text.failed", "page", page, "error", err)
	}
	embedded = collapse(embedded)

	img, err := doc.RenderPage(page, filepath.Join(workDir, "pages"))
	if err != nil {
		return rec, err
	}
	rec.ImagePath = img

	an, err := e.analyzer.Analyze(ctx, img)
	if err != nil {
		return rec, err
	}
	rec.Label = an.Label
	rec.VisualScore = an.Visual

	res := Resolve(embedded, an, e.cfg.EnableVision && e.vision != nil)
	rec.Engine = res.Engine
	rec.NeedsVision = res.NeedsVision
	rec.Text = embedded
	if res.UseOCR {
		rec.OCRText = strings.TrimSpace(an.Text)
		if e.scorer != nil && rec.OCRText != "" {
			conf, err := e.scorer.Confidence(ctx, img)
			if err != nil {
				e.logger.Debug("extract.ocr.confidence_failed", "page", page, "error", err)
			}
			rec.OCRConfidence = conf
		}
	}
	if res.Engine == constants.EngineNone {
		rec.Text = ""
	}
	rec.Chars = len(rec.Text) + len(rec.OCRText)
	return rec, nil
}

// attachVision sends the pages marked for vision and stores each result on its page.
func (e *Extractor) attachVision(ctx context.Context, pages []Page) {
	if e.vision == nil {
		return
	}
	var items []vision.Item
	for _, p := range pages {
		if !p.NeedsVision {
			continue
		}
		data, err := vision.Preprocess(p.ImagePath)
		if err != nil {
			e.logger.Warn("extract.vision.preprocess_failed", "page", p.Page, "error", err)
			continue
		}
		items = append(items, vision.Item{Page: p.Page, Data: data})
	}
	if len(items) == 0 {
		return
	}
	results := e.vision.Run(ctx, items)
	for i := range pages {
		if r, ok := results[pages[i].Page]; ok {
			pages[i].Chart = r
		}
	}
}

// ToCompress loads table CSVs and charts into the compressor's page form.
func ToCompress(pages []Page, logger *slog.Logger) []compress.Page {
	if logger == nil {
		logger = slog.Default()
	}
	out := make([]compress.Page, 0, len(pages))
	for _, p := range pages {
		cp := compress.Page{Number: p.Page, Text: p.Text, OCR: p.OCRText}
		for _, ref := range p.Tables {
			tb, err := compress.LoadCSV(ref.Path)
			if err != nil {
				logger.Warn("extract.table.load_failed", "page", p.Page, "path", ref.Path, "error", err)
				continue
			}
			cp.Tables = append(cp.Tables, tb)
		}
		if p.Chart != nil {
			cp.Charts = []compress.Chart{compress.ChartFrom(p.Chart)}
		}
		out = append(out, cp)
	}
	return out
}
