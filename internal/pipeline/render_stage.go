package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/webdevavi/aureus/constants"
	"github.com/webdevavi/aureus/internal/async"
	"github.com/webdevavi/aureus/internal/common"
	"github.com/webdevavi/aureus/internal/entity"
	"github.com/webdevavi/aureus/internal/synthesis"
)

var errSentinelReport = errors.New("extract artifact is the synthesis failure sentinel")

// HandleRender runs one renderer job: job.FileID is the extract file. Failures before
// the output slot exists are only logged.
func (p *Processor) HandleRender(ctx context.Context, job async.Job) error {
	log := common.LoggerFromContext(ctx, p.logger.With("report_id", job.ReportID, "file_id", job.FileID))
	log.Info("render.job.start")

	dir, err := p.jobDir("render", job.ReportID)
	if err != nil {
		log.Error("render.job.failed", "error", err)
		return err
	}
	defer p.cleanup(dir)

	report, err := p.fetchExtract(ctx, job, dir)
	if err != nil {
		log.Error("render.job.failed", "error", err, "status_updated", false)
		return err
	}

	ticket, err := p.api.RequestUpload(ctx, job.ReportID, constants.FileTypePDF, constants.CategoryOutput)
	if err != nil {
		log.Error("render.claim.failed", "error", err)
		return fmt.Errorf("claim output slot: %w", err)
	}
	log = log.With("output_file_id", ticket.FileID)
	if err := p.api.UpdateStatus(ctx, job.ReportID, ticket.FileID, constants.StatusProcessing, ""); err != nil {
		log.Error("render.job.failed", "error", err)
		p.markError(ctx, job.ReportID, ticket.FileID, err)
		return fmt.Errorf("mark output processing: %w", err)
	}

	if err := p.runRender(ctx, job, report, ticket.UploadURL, ticket.FileID); err != nil {
		log.Error("render.job.failed", "error", err)
		p.markError(ctx, job.ReportID, ticket.FileID, err)
		return err
	}
	log.Info("render.job.done")
	return nil
}

func (p *Processor) fetchExtract(ctx context.Context, job async.Job, dir string) (map[string]any, error) {
	url, err := p.api.DownloadURL(ctx, job.ReportID, job.FileID)
	if err != nil {
		return nil, fmt.Errorf("extract download url: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("report_%d_extract_%d.json", job.ReportID, job.FileID))
	if err := p.api.Download(ctx, url, path); err != nil {
		return nil, fmt.Errorf("download extract: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return synthesis.Decode(data)
}

func (p *Processor) runRender(ctx context.Context, job async.Job, report map[string]any, uploadURL string, fileID int64) error {
	if synthesis.IsSentinel(report) {
		return fmt.Errorf("report generation failed: %w", errSentinelReport)
	}
	rep, err := entity.ParseFinancialReport(report)
	if err != nil {
		return fmt.Errorf("report generation failed: %w", err)
	}
	data, err := p.renderer.Render(rep)
	if err != nil {
		return fmt.Errorf("report generation failed: %w", err)
	}
	if err := p.api.Upload(ctx, uploadURL, data, constants.FileTypePDF); err != nil {
		return fmt.Errorf("upload pdf: %w", err)
	}
	if err := p.api.UpdateStatus(ctx, job.ReportID, fileID, constants.StatusDone, ""); err != nil {
		return fmt.Errorf("mark output done: %w", err)
	}
	return nil
}
