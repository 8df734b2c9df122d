package entity

import (
	"time"

	"github.com/webdevavi/aureus/constants"
)

// Report is the unit a user uploads a source document for.
type Report struct {
	ID          int64     `json:"id"`
	CompanyName string    `json:"company_name"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ReportFile occupies one category slot of a report.
type ReportFile struct {
	ID        int64                  `json:"id"`
	ReportID  int64                  `json:"report_id"`
	Type      constants.FileType     `json:"type"`
	Category  constants.FileCategory `json:"category"`
	Status    constants.FileStatus   `json:"status"`
	S3Bucket  string                 `json:"s3_bucket"`
	S3Key     string                 `json:"s3_key"`
	Error     *string                `json:"error,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// Slots indexes a report's files by category.
type Slots map[constants.FileCategory]*ReportFile

func NewSlots(files []ReportFile) Slots {
	s := make(Slots, len(files))
	for i := range files {
		f := files[i]
		s[f.Category] = &f
	}
	return s
}
