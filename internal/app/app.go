// Package app wires the process-wide dependencies shared by the worker binaries and the CLI.
package app

import (
	"context"
	"log/slog"

	"github.com/webdevavi/aureus/internal/apiclient"
	"github.com/webdevavi/aureus/internal/cache"
	"github.com/webdevavi/aureus/internal/classify"
	"github.com/webdevavi/aureus/internal/common"
	"github.com/webdevavi/aureus/internal/extract"
	"github.com/webdevavi/aureus/internal/llm"
	"github.com/webdevavi/aureus/internal/ocr"
	"github.com/webdevavi/aureus/internal/pdf"
	"github.com/webdevavi/aureus/internal/pipeline"
	"github.com/webdevavi/aureus/internal/render"
	"github.com/webdevavi/aureus/internal/synthesis"
	"github.com/webdevavi/aureus/internal/vision"
)

// Deps is built once per process and handed to the stage handlers.
type Deps struct {
	Config    *common.Config
	Logger    *slog.Logger
	API       *apiclient.Client
	Cache     cache.Client
	LLM       *llm.Client
	Extractor *extract.Extractor
	Processor *pipeline.Processor
}

// New builds the extraction chain, synthesizer and renderer from cfg.
func New(ctx context.Context, cfg *common.Config, logger *slog.Logger) (*Deps, error) {
	if logger == nil {
		logger = slog.Default()
	}
	store, err := cache.New(ctx, cfg.Cache)
	if err != nil {
		return nil, err
	}

	engine := ocr.NewEngine(ocr.Config{
		Tesseract:   cfg.OCR.TesseractBin,
		Pdftotext:   cfg.OCR.PDFToTextBin,
		Lang:        cfg.OCR.Lang,
		TessdataDir: cfg.OCR.TessdataDir,
	}, nil, logger)

	client := llm.NewClient(llm.ConfigFrom(cfg.LLM), logger)
	va, err := vision.NewAnalyzer(client, store, vision.Options{Model: cfg.LLM.VisionModel, CacheTTL: cfg.Cache.TTL}, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	synth, err := synthesis.New(client, synthesis.Options{
		Model:      cfg.LLM.Model,
		Attempts:   cfg.Pipeline.SynthesisAttempts,
		MaxBackoff: cfg.Pipeline.MaxBackoff,
	}, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	ex := extract.New(
		extract.Config{Workers: cfg.Pipeline.MaxWorkers, EnableVision: cfg.Pipeline.EnableVision},
		pdf.FitzOpener{Options: pdf.DefaultRenderOptions()},
		classify.NewAnalyzer(engine, logger),
		extract.NewLayoutTables(engine, logger),
		logger,
		extract.WithVision(va),
		extract.WithConfidence(engine),
	)

	api := apiclient.New(cfg.Server.APIBaseURL, logger)
	proc := pipeline.NewProcessor(pipeline.Config{
		WorkDir:       cfg.OCR.WorkDir,
		Compression:   cfg.Pipeline.Compression,
		MaxFieldChars: cfg.Pipeline.MaxFieldChars,
	}, api, ex, synth, render.New(logger), logger)

	return &Deps{
		Config:    cfg,
		Logger:    logger,
		API:       api,
		Cache:     store,
		LLM:       client,
		Extractor: ex,
		Processor: proc,
	}, nil
}

func (d *Deps) Close() {
	if err := d.Cache.Close(); err != nil {
		d.Logger.Warn("app.cache.close_failed", "error", err)
	}
}
