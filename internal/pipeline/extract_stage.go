package pipeline

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/webdevavi/aureus/constants"
	"github.com/webdevavi/aureus/internal/async"
	"github.com/webdevavi/aureus/internal/common"
	"github.com/webdevavi/aureus/internal/synthesis"
)

// HandleExtract runs one extractor job: job.FileID is the source file.
// Failing to reserve the extract slot is fatal and leaves no status behind; once
// the slot exists any failure marks it error.
func (p *Processor) HandleExtract(ctx context.Context, job async.Job) error {
	log := common.LoggerFromContext(ctx, p.logger.With("report_id", job.ReportID, "file_id", job.FileID))
	log.Info("extract.job.start", "file_type", job.FileType)

	ticket, err := p.api.RequestUpload(ctx, job.ReportID, constants.FileTypeJSON, constants.CategoryExtract)
	if err != nil {
		log.Error("extract.claim.failed", "error", err)
		return fmt.Errorf("claim extract slot: %w", err)
	}
	log = log.With("extract_file_id", ticket.FileID)
	if err := p.api.UpdateStatus(ctx, job.ReportID, ticket.FileID, constants.StatusProcessing, ""); err != nil {
		log.Error("extract.job.failed", "error", err)
		p.markError(ctx, job.ReportID, ticket.FileID, err)
		return fmt.Errorf("mark extract processing: %w", err)
	}

	if err := p.runExtract(ctx, job, ticket.UploadURL, ticket.FileID); err != nil {
		log.Error("extract.job.failed", "error", err)
		p.markError(ctx, job.ReportID, ticket.FileID, err)
		return err
	}
	log.Info("extract.job.done")
	return nil
}

func (p *Processor) runExtract(ctx context.Context, job async.Job, uploadURL string, fileID int64) error {
	ft := job.FileType
	if ft == "" {
		return fmt.Errorf("job for report %d has no file_type", job.ReportID)
	}
	dir, err := p.jobDir("extract", job.ReportID)
	if err != nil {
		return err
	}
	defer p.cleanup(dir)

	report, err := p.api.GetReport(ctx, job.ReportID)
	if err != nil {
		return fmt.Errorf("get report: %w", err)
	}
	url, err := p.api.DownloadURL(ctx, job.ReportID, job.FileID)
	if err != nil {
		return fmt.Errorf("source download url: %w", err)
	}
	src := filepath.Join(dir, fmt.Sprintf("source_%d.%s", job.FileID, ft))
	if err := p.api.Download(ctx, url, src); err != nil {
		return fmt.Errorf("download source: %w", err)
	}

	art, err := p.Build(ctx, src, ft, report.CompanyName, dir, nil)
	if err != nil {
		return err
	}
	data, err := synthesis.Encode(art.Result.Report)
	if err != nil {
		return err
	}
	if err := p.api.Upload(ctx, uploadURL, data, constants.FileTypeJSON); err != nil {
		return fmt.Errorf("upload report json: %w", err)
	}
	if art.Result.Sentinel {
		return fmt.Errorf("report synthesis failed after %d attempts: %w", art.Result.Attempts, art.Result.Err)
	}
	if err := p.api.UpdateStatus(ctx, job.ReportID, fileID, constants.StatusDone, ""); err != nil {
		return fmt.Errorf("mark extract done: %w", err)
	}
	return nil
}
