package async

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/webdevavi/aureus/constants"
	"github.com/webdevavi/aureus/internal/common"
)

// Job is the stage trigger message, routed by stage name.
type Job struct {
	ReportID int64              `json:"report_id"`
	FileID   int64              `json:"file_id"`
	FileType constants.FileType `json:"file_type,omitempty"`
}

// Handler runs one stage job. Its error is logged, never redelivered.
type Handler func(ctx context.Context, job Job) error

// Publisher submits jobs to a stage queue.
type Publisher interface {
	Publish(ctx context.Context, stage constants.Stage, job Job) error
}

func (j Job) Encode() ([]byte, error) {
	return json.Marshal(j)
}

// DecodeJob parses and sanity-checks a message body.
func DecodeJob(body []byte) (Job, error) {
	var j Job
	if err := json.Unmarshal(body, &j); err != nil {
		return Job{}, fmt.Errorf("decode job: %w", err)
	}
	if j.ReportID <= 0 || j.FileID <= 0 {
		return Job{}, fmt.Errorf("decode job: report_id and file_id are required")
	}
	if j.FileType != "" {
		ft, err := constants.ParseFileType(string(j.FileType))
		if err != nil {
			return Job{}, fmt.Errorf("decode job: %w", err)
		}
		j.FileType = ft
	}
	return j, nil
}

// jobContext tags ctx with a fresh job id and a logger carrying the job fields.
// The id travels to the API as the request id of every call the handler makes.
func jobContext(ctx context.Context, logger *slog.Logger, stage constants.Stage, job Job) (context.Context, *slog.Logger) {
	id := uuid.NewString()
	log := logger.With("job_id", id, "stage", stage, "report_id", job.ReportID, "file_id", job.FileID)
	return common.WithLogger(common.WithRequestID(ctx, id), log), log
}
