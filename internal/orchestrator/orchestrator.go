// Package orchestrator owns the report file state machine: slot reservation,
// status transitions, next-stage triggers and the retry protocol.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/webdevavi/aureus/constants"
	"github.com/webdevavi/aureus/internal/async"
	"github.com/webdevavi/aureus/internal/common"
	"github.com/webdevavi/aureus/internal/entity"
	"github.com/webdevavi/aureus/internal/repository"
)

// Store runs report/file queries, optionally inside one transaction.
type Store interface {
	InTx(ctx context.Context, fn func(q *repository.Queries) error) error
	Queries() *repository.Queries
}

// Presigner issues time-limited object store URLs.
type Presigner interface {
	PresignUpload(ctx context.Context, bucket, key string) (string, error)
	PresignDownload(ctx context.Context, bucket, key, contentType string) (string, error)
}

const (
	MsgCreated = "Created new file record."
	MsgReused  = "Reused existing errored file for retry."
)

type Options struct {
	Bucket string
	// StaleAfter > 0 turns pending/processing records untouched for that long
	// into error records before upload or retry decisions. Zero disables it.
	StaleAfter time.Duration
	Now        func() time.Time
}

type Service struct {
	store      Store
	presign    Presigner
	publisher  async.Publisher
	bucket     string
	staleAfter time.Duration
	now        func() time.Time
	logger     *slog.Logger
}

func New(store Store, presign Presigner, publisher async.Publisher, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		store:      store,
		presign:    presign,
		publisher:  publisher,
		bucket:     opts.Bucket,
		staleAfter: opts.StaleAfter,
		now:        opts.Now,
		logger:     logger,
	}
}

// UploadTicket is the answer to an upload intent.
type UploadTicket struct {
	FileID    int64                  `json:"file_id"`
	UploadURL string                 `json:"upload_url"`
	S3Key     string                 `json:"s3_key"`
	S3Bucket  string                 `json:"s3_bucket"`
	FileType  constants.FileType     `json:"file_type"`
	Category  constants.FileCategory `json:"category"`
	Status    constants.FileStatus   `json:"status"`
	Message   string                 `json:"message"`
}

// ObjectKey builds the storage key for a new file of type t.
func ObjectKey(t constants.FileType) string {
	return fmt.Sprintf("%s_%s.%s", t, uuid.NewString(), t)
}

// RequestUpload reserves (or reuses) the category slot and signs an upload URL for it.
func (s *Service) RequestUpload(ctx context.Context, reportID int64, fileType constants.FileType, category constants.FileCategory) (*UploadTicket, error) {
	var (
		file *entity.ReportFile
		msg  string
	)
	err := s.store.InTx(ctx, func(q *repository.Queries) error {
		if _, err := q.LockReport(ctx, reportID); err != nil {
			return err
		}
		slots, err := s.loadSlots(ctx, q, reportID)
		if err != nil {
			return err
		}

		existing := slots[category]
		if existing == nil {
			file = &entity.ReportFile{
				ReportID: reportID,
				Type:     fileType,
				Category: category,
				Status:   constants.StatusPending,
				S3Bucket: s.bucket,
				S3Key:    ObjectKey(fileType),
			}
			msg = MsgCreated
			return q.InsertFile(ctx, file)
		}

		switch existing.Status {
		case constants.StatusError:
			existing.Status = constants.StatusPending
			existing.Type = fileType
			existing.Error = nil
			file, msg = existing, MsgReused
			return q.UpdateFile(ctx, existing)
		case constants.StatusPending, constants.StatusProcessing:
			return inFlightErr(fmt.Sprintf("File already in progress (%s).", existing.Status))
		case constants.StatusDone:
			return rejectedErr("FILE_COMPLETED", "File already completed successfully.")
		default:
			return fmt.Errorf("unhandled status %q", existing.Status)
		}
	})
	if err != nil {
		s.logger.Warn("orchestrator.upload.rejected", "report_id", reportID, "category", category, "error", err)
		return nil, err
	}

	uploadURL, err := s.presign.PresignUpload(ctx, file.S3Bucket, file.S3Key)
	if err != nil {
		return nil, common.NewAppError("PRESIGN_FAILED", "could not sign upload url", fmt.Errorf("%w: %v", common.ErrUnavailable, err))
	}
	s.logger.Info("orchestrator.upload.ready", "report_id", reportID, "file_id", file.ID, "category", category, "reused", msg == MsgReused)
	return &UploadTicket{
		FileID:    file.ID,
		UploadURL: uploadURL,
		S3Key:     file.S3Key,
		S3Bucket:  file.S3Bucket,
		FileType:  file.Type,
		Category:  file.Category,
		Status:    file.Status,
		Message:   msg,
	}, nil
}

// UpdateStatus applies one state machine transition. A file reaching done
// triggers the next stage after commit. Repeating the current status is a no-op
// that publishes nothing.
func (s *Service) UpdateStatus(ctx context.Context, reportID, fileID int64, status constants.FileStatus, errorMessage string) (*entity.ReportFile, error) {
	var (
		file     *entity.ReportFile
		repeated bool
	)
	err := s.store.InTx(ctx, func(q *repository.Queries) error {
		if _, err := q.LockReport(ctx, reportID); err != nil {
			return err
		}
		f, err := q.GetFile(ctx, reportID, fileID)
		if err != nil {
			return err
		}
		if f.Status == status {
			// a retried PATCH whose first attempt committed
			file, repeated = f, true
			return nil
		}
		if !f.Status.CanTransition(status) {
			return common.NewAppError("INVALID_TRANSITION",
				fmt.Sprintf("Cannot move file from %s to %s.", f.Status, status), common.ErrConflict)
		}

		f.Status = status
		f.Error = nil
		if status == constants.StatusError {
			msg := constants.Truncate(errorMessage)
			if msg == "" {
				msg = "unknown error"
			}
			f.Error = &msg
		}
		if err := q.UpdateFile(ctx, f); err != nil {
			return err
		}
		if err := q.TouchReport(ctx, reportID); err != nil {
			return err
		}
		file = f
		return nil
	})
	if err != nil {
		return nil, err
	}
	if repeated {
		s.logger.Info("orchestrator.status.unchanged", "report_id", reportID, "file_id", fileID, "status", status)
		return file, nil
	}
	s.logger.Info("orchestrator.status.updated", "report_id", reportID, "file_id", fileID, "category", file.Category, "status", status)

	if status != constants.StatusDone {
		return file, nil
	}
	stage, ok := constants.NextStage(file.Category)
	if !ok {
		return file, nil
	}
	job := async.Job{ReportID: reportID, FileID: file.ID}
	if file.Category == constants.CategorySource {
		job.FileType = file.Type
	}
	// the status is committed; a lost trigger is recovered through Retry
	if err := s.publisher.Publish(ctx, stage, job); err != nil {
		s.logger.Error("orchestrator.trigger.failed", "report_id", reportID, "stage", stage, "error", err)
	}
	return file, nil
}

// RetryResult reports which stage was re-enqueued.
type RetryResult struct {
	ReportID   int64           `json:"report_id"`
	RetryStage constants.Stage `json:"retry_stage"`
	Queued     bool            `json:"queued"`
	Message    string          `json:"message"`
}

// Retry inspects the source, extract and output slots and re-enqueues the first
// stage that has not completed.
func (s *Service) Retry(ctx context.Context, reportID int64) (*RetryResult, error) {
	var (
		stage constants.Stage
		job   async.Job
	)
	err := s.store.InTx(ctx, func(q *repository.Queries) error {
		if _, err := q.LockReport(ctx, reportID); err != nil {
			return err
		}
		slots, err := s.loadSlots(ctx, q, reportID)
		if err != nil {
			return err
		}
		stage, job, err = decideRetry(reportID, slots)
		return err
	})
	if err != nil {
		s.logger.Info("orchestrator.retry.rejected", "report_id", reportID, "error", err)
		return nil, err
	}

	if err := s.publisher.Publish(ctx, stage, job); err != nil {
		return nil, common.NewAppError("PUBLISH_FAILED", "could not enqueue retry", fmt.Errorf("%w: %v", common.ErrUnavailable, err))
	}
	s.logger.Info("orchestrator.retry.queued", "report_id", reportID, "stage", stage, "file_id", job.FileID)
	return &RetryResult{
		ReportID:   reportID,
		RetryStage: stage,
		Queued:     true,
		Message:    fmt.Sprintf("Retry queued for %s stage.", stage),
	}, nil
}

func decideRetry(reportID int64, slots entity.Slots) (constants.Stage, async.Job, error) {
	source := slots[constants.CategorySource]
	if source == nil {
		return "", async.Job{}, rejectedErr("NO_SOURCE", "Cannot retry: no source file uploaded yet.")
	}
	extract, output := slots[constants.CategoryExtract], slots[constants.CategoryOutput]

	if extract == nil || extract.Status == constants.StatusError {
		return constants.StageExtractor, async.Job{ReportID: reportID, FileID: source.ID, FileType: source.Type}, nil
	}
	if extract.Status == constants.StatusDone && (output == nil || output.Status == constants.StatusError) {
		return constants.StageRenderer, async.Job{ReportID: reportID, FileID: extract.ID}, nil
	}
	if extract.Status.InFlight() {
		return "", async.Job{}, inFlightErr("Extraction already in progress.")
	}
	if output != nil && output.Status.InFlight() {
		return "", async.Job{}, inFlightErr("Rendering already in progress.")
	}
	return "", async.Job{}, rejectedErr("NOTHING_TO_RETRY", "Nothing to retry: all stages completed successfully.")
}

// loadSlots reads the report's files and, when staleness is enabled, fails
// in-flight records that stopped making progress.
func (s *Service) loadSlots(ctx context.Context, q *repository.Queries, reportID int64) (entity.Slots, error) {
	files, err := q.FilesForReport(ctx, reportID)
	if err != nil {
		return nil, err
	}
	slots := entity.NewSlots(files)
	if s.staleAfter <= 0 {
		return slots, nil
	}
	cutoff := s.now().Add(-s.staleAfter)
	for _, f := range slots {
		if !f.Status.InFlight() || !f.UpdatedAt.Before(cutoff) {
			continue
		}
		msg := fmt.Sprintf("stale: no progress since %s", f.UpdatedAt.UTC().Format(time.RFC3339))
		prev := f.Status
		f.Status = constants.StatusError
		f.Error = &msg
		if err := q.UpdateFile(ctx, f); err != nil {
			return nil, err
		}
		s.logger.Warn("orchestrator.file.stale", "report_id", reportID, "file_id", f.ID, "category", f.Category, "was", prev)
	}
	return slots, nil
}

func inFlightErr(msg string) error {
	return common.NewAppError("IN_FLIGHT", msg, common.ErrConflict)
}

func rejectedErr(code, msg string) error {
	return common.NewAppError(code, msg, common.ErrRejected)
}
