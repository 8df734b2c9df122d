package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/webdevavi/aureus/internal/common"
	"github.com/webdevavi/aureus/internal/entity"
	"github.com/webdevavi/aureus/internal/repository"
)

// ReportWithFiles is a report and its slot records.
type ReportWithFiles struct {
	entity.Report
	Files []entity.ReportFile `json:"files"`
}

func (s *Service) CreateReport(ctx context.Context, companyName string) (*entity.Report, error) {
	companyName = strings.TrimSpace(companyName)
	if err := common.NewValidator().
		Field("company_name", companyName, common.Required, common.MaxLength(255)).
		Err(); err != nil {
		return nil, err
	}
	r, err := s.store.Queries().CreateReport(ctx, companyName)
	if err != nil {
		return nil, err
	}
	s.logger.Info("orchestrator.report.created", "report_id", r.ID)
	return r, nil
}

func (s *Service) ListReports(ctx context.Context) ([]ReportWithFiles, error) {
	reports, err := s.store.Queries().ListReports(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]ReportWithFiles, 0, len(reports))
	for _, r := range reports {
		files, err := s.store.Queries().FilesForReport(ctx, r.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, ReportWithFiles{Report: r, Files: orEmpty(files)})
	}
	return out, nil
}

func (s *Service) GetReport(ctx context.Context, id int64) (*ReportWithFiles, error) {
	r, err := s.store.Queries().GetReport(ctx, id)
	if err != nil {
		return nil, err
	}
	files, err := s.store.Queries().FilesForReport(ctx, id)
	if err != nil {
		return nil, err
	}
	return &ReportWithFiles{Report: *r, Files: orEmpty(files)}, nil
}

func (s *Service) DeleteReport(ctx context.Context, id int64) error {
	err := s.store.InTx(ctx, func(q *repository.Queries) error {
		return q.DeleteReport(ctx, id)
	})
	if err != nil {
		return err
	}
	s.logger.Info("orchestrator.report.deleted", "report_id", id)
	return nil
}

func (s *Service) ListFiles(ctx context.Context, reportID int64) ([]entity.ReportFile, error) {
	if _, err := s.store.Queries().GetReport(ctx, reportID); err != nil {
		return nil, err
	}
	files, err := s.store.Queries().FilesForReport(ctx, reportID)
	if err != nil {
		return nil, err
	}
	return orEmpty(files), nil
}

// FileDownload is a signed link to one stored artifact.
type FileDownload struct {
	FileID      int64  `json:"file_id"`
	DownloadURL string `json:"download_url"`
	entity.ReportFile
}

func (s *Service) DownloadURL(ctx context.Context, reportID, fileID int64) (*FileDownload, error) {
	f, err := s.store.Queries().GetFile(ctx, reportID, fileID)
	if err != nil {
		return nil, err
	}
	link, err := s.presign.PresignDownload(ctx, f.S3Bucket, f.S3Key, f.Type.ContentType())
	if err != nil {
		return nil, common.NewAppError("PRESIGN_FAILED", "could not sign download url", fmt.Errorf("%w: %v", common.ErrUnavailable, err))
	}
	return &FileDownload{FileID: f.ID, DownloadURL: link, ReportFile: *f}, nil
}

func orEmpty(files []entity.ReportFile) []entity.ReportFile {
	if files == nil {
		return []entity.ReportFile{}
	}
	return files
}
