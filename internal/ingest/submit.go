// Package ingest feeds local source documents into the report pipeline through
// the reports API.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/webdevavi/aureus/constants"
	"github.com/webdevavi/aureus/internal/apiclient"
	"github.com/webdevavi/aureus/internal/common"
	"github.com/webdevavi/aureus/internal/entity"
)

// ReportAPI is the slice of the API client a submission needs.
type ReportAPI interface {
	CreateReport(ctx context.Context, companyName string) (*entity.Report, error)
	RequestUpload(ctx context.Context, reportID int64, t constants.FileType, cat constants.FileCategory) (*apiclient.UploadTicket, error)
	UploadFile(ctx context.Context, presignedURL, path string, t constants.FileType) error
	UpdateStatus(ctx context.Context, reportID, fileID int64, st constants.FileStatus, errorMessage string) error
}

// Submission is the outcome for one file.
type Submission struct {
	Path     string
	Company  string
	ReportID int64
	FileID   int64
	FileType constants.FileType
}

type Submitter struct {
	api    ReportAPI
	logger *slog.Logger
}

func NewSubmitter(api ReportAPI, logger *slog.Logger) *Submitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Submitter{api: api, logger: logger}
}

// Submit creates a report for path, uploads it as the source file and marks
// the source done, which queues extraction. An empty company is derived from
// the file name.
func (s *Submitter) Submit(ctx context.Context, path, company string) (Submission, error) {
	out := Submission{Path: path}
	if !Accepts(path) {
		return out, common.NewAppError("UNSUPPORTED_FILE", fmt.Sprintf("unsupported source file %q (want pdf or txt)", filepath.Base(path)), common.ErrInvalidInput)
	}
	ft, _ := constants.ParseFileType(filepath.Ext(path))
	out.FileType = ft

	if company = strings.TrimSpace(company); company == "" {
		company = CompanyFromPath(path)
	}
	if company == "" {
		return out, common.NewAppError("NO_COMPANY", "company name is required", common.ErrInvalidInput)
	}
	out.Company = company

	rep, err := s.api.CreateReport(ctx, company)
	if err != nil {
		return out, fmt.Errorf("create report: %w", err)
	}
	out.ReportID = rep.ID

	ticket, err := s.api.RequestUpload(ctx, rep.ID, ft, constants.CategorySource)
	if err != nil {
		return out, fmt.Errorf("request source upload: %w", err)
	}
	out.FileID = ticket.FileID

	if err := s.api.UploadFile(ctx, ticket.UploadURL, path, ft); err != nil {
		if serr := s.api.UpdateStatus(context.WithoutCancel(ctx), rep.ID, ticket.FileID, constants.StatusError, err.Error()); serr != nil {
			s.logger.Warn("ingest.submit.mark_error_failed", "report_id", rep.ID, "error", serr)
		}
		return out, fmt.Errorf("upload source: %w", err)
	}
	if err := s.api.UpdateStatus(ctx, rep.ID, ticket.FileID, constants.StatusDone, ""); err != nil {
		return out, fmt.Errorf("mark source done: %w", err)
	}

	s.logger.Info("ingest.submit.ok", "report_id", rep.ID, "file_id", ticket.FileID, "company", company, "path", path)
	return out, nil
}

// CompanyFromPath turns "acme_holdings-q3.pdf" into "Acme Holdings Q3".
func CompanyFromPath(path string) string {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	words := strings.FieldsFunc(stem, func(r rune) bool {
		return r == '_' || r == '-' || r == '.' || unicode.IsSpace(r)
	})
	for i, w := range words {
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}
