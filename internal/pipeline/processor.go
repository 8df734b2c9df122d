package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/webdevavi/aureus/constants"
	"github.com/webdevavi/aureus/internal/apiclient"
	"github.com/webdevavi/aureus/internal/common"
	"github.com/webdevavi/aureus/internal/compress"
	"github.com/webdevavi/aureus/internal/entity"
	"github.com/webdevavi/aureus/internal/extract"
	"github.com/webdevavi/aureus/internal/synthesis"
)

// ReportAPI is the slice of the reports API the stage workers call.
type ReportAPI interface {
	GetReport(ctx context.Context, reportID int64) (*entity.Report, error)
	DownloadURL(ctx context.Context, reportID, fileID int64) (string, error)
	RequestUpload(ctx context.Context, reportID int64, t constants.FileType, cat constants.FileCategory) (*apiclient.UploadTicket, error)
	UpdateStatus(ctx context.Context, reportID, fileID int64, st constants.FileStatus, errorMessage string) error
	Download(ctx context.Context, presignedURL, dst string) error
	Upload(ctx context.Context, presignedURL string, data []byte, t constants.FileType) error
}

type FileExtractor interface {
	ExtractFile(ctx context.Context, path string, ft constants.FileType, workDir string, progress extract.Progress) ([]extract.Page, error)
}

type ReportSynthesizer interface {
	Generate(ctx context.Context, company string, doc []byte) synthesis.Result
}

type PDFRenderer interface {
	Render(rep entity.FinancialReport) ([]byte, error)
}

type Config struct {
	WorkDir       string
	Compression   string
	MaxFieldChars int
	// StatusTimeout bounds the final status update, which runs even after ctx is cancelled.
	StatusTimeout time.Duration
}

// Processor runs the extractor and renderer stage jobs against the reports API.
type Processor struct {
	cfg       Config
	api       ReportAPI
	extractor FileExtractor
	synth     ReportSynthesizer
	renderer  PDFRenderer
	logger    *slog.Logger
}

func NewProcessor(cfg Config, api ReportAPI, ex FileExtractor, synth ReportSynthesizer, r PDFRenderer, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = os.TempDir()
	}
	if cfg.Compression == "" {
		cfg.Compression = compress.StrategyDedupe
	}
	if cfg.StatusTimeout <= 0 {
		cfg.StatusTimeout = 30 * time.Second
	}
	return &Processor{cfg: cfg, api: api, extractor: ex, synth: synth, renderer: r, logger: logger}
}

// Artifacts are the intermediate and final outputs of one extraction run.
type Artifacts struct {
	Pages   []extract.Page
	Context []byte
	Result  synthesis.Result
}

const codeNoContent = "NO_CONTENT"

// Build extracts a local source file, compresses the pages and synthesizes a report.
// A sentinel synthesis result is returned as Artifacts, not as an error.
func (p *Processor) Build(ctx context.Context, src string, ft constants.FileType, company, workDir string, progress extract.Progress) (Artifacts, error) {
	var a Artifacts
	pages, err := p.extractor.ExtractFile(ctx, src, ft, workDir, progress)
	if err != nil {
		return a, err
	}
	if len(pages) == 0 {
		return a, common.NewAppError(codeNoContent, fmt.Sprintf("No extractable content found in %s file", ft.Upper()), nil)
	}
	a.Pages = pages

	doc, err := compress.Compress(p.cfg.Compression, extract.ToCompress(pages, p.logger), compress.Options{MaxFieldChars: p.cfg.MaxFieldChars})
	if err != nil {
		return a, fmt.Errorf("compress context: %w", err)
	}
	a.Context = doc
	p.logger.Info("pipeline.context.ready", "pages", len(pages), "strategy", p.cfg.Compression, "bytes", len(doc))

	a.Result = p.synth.Generate(ctx, company, doc)
	return a, nil
}

// markError records a failure on a claimed slot. It outlives ctx cancellation so a
// stopped worker still leaves the slot reclaimable.
func (p *Processor) markError(ctx context.Context, reportID, fileID int64, cause error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.StatusTimeout)
	defer cancel()
	msg := constants.Truncate(errorText(cause))
	if err := p.api.UpdateStatus(ctx, reportID, fileID, constants.StatusError, msg); err != nil {
		p.logger.Error("pipeline.status.error_update_failed", "report_id", reportID, "file_id", fileID, "error", err)
	}
}

// errorText is the message stored on the file record.
func errorText(err error) string {
	if common.CodeOf(err) == codeNoContent {
		return common.UserMessage(err)
	}
	return err.Error()
}

func (p *Processor) jobDir(prefix string, reportID int64) (string, error) {
	if err := os.MkdirAll(p.cfg.WorkDir, 0o755); err != nil {
		return "", fmt.Errorf("create work dir: %w", err)
	}
	dir, err := os.MkdirTemp(p.cfg.WorkDir, fmt.Sprintf("%s_%d_", prefix, reportID))
	if err != nil {
		return "", fmt.Errorf("create job dir: %w", err)
	}
	return dir, nil
}

func (p *Processor) cleanup(dir string) {
	if err := os.RemoveAll(dir); err != nil {
		p.logger.Warn("pipeline.cleanup.failed", "dir", dir, "error", err)
	}
}
