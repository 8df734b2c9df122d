package constants

import (
	"fmt"
	"strings"
)

// FileStatus is the lifecycle state of a report file (store these exact strings in DB).
type FileStatus string

const (
	StatusPending    FileStatus = "pending"    // slot reserved, waiting for upload or work
	StatusProcessing FileStatus = "processing" // claimed by a worker
	StatusDone       FileStatus = "done"       // artifact uploaded
	StatusError      FileStatus = "error"      // failed, reclaimable
)

func ParseFileStatus(s string) (FileStatus, error) {
	switch st := FileStatus(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusPending, StatusProcessing, StatusDone, StatusError:
		return st, nil
	default:
		return "", fmt.Errorf("unknown file status %q", s)
	}
}

// InFlight reports whether a record is owned by an upload or a worker.
func (s FileStatus) InFlight() bool {
	switch s {
	case StatusPending, StatusProcessing:
		return true
	case StatusDone, StatusError:
		return false
	default:
		return false
	}
}

// CanTransition encodes the allowed moves of the file state machine.
// error and done are only left through slot reuse, never through a status update.
func (s FileStatus) CanTransition(to FileStatus) bool {
	switch s {
	case StatusPending:
		return to == StatusProcessing || to == StatusDone || to == StatusError
	case StatusProcessing:
		return to == StatusDone || to == StatusError
	case StatusDone, StatusError:
		return false
	default:
		return false
	}
}

// Stage is a pipeline stage; its value is also the queue name and routing key.
type Stage string

const (
	StageExtractor Stage = "extractor"
	StageRenderer  Stage = "renderer"
)

func ParseStage(s string) (Stage, error) {
	switch st := Stage(strings.ToLower(strings.TrimSpace(s))); st {
	case StageExtractor, StageRenderer:
		return st, nil
	default:
		return "", fmt.Errorf("unknown stage %q", s)
	}
}

// NextStage returns the stage triggered when a file in category c reaches done.
func NextStage(c FileCategory) (Stage, bool) {
	switch c {
	case CategorySource:
		return StageExtractor, true
	case CategoryExtract:
		return StageRenderer, true
	case CategoryOutput:
		return "", false
	default:
		return "", false
	}
}
