// Package checkpoint persists the resumable state of one batch operation as
// a single JSON document at a well-known path.
package checkpoint

import (
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of one file within a checkpoint.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

func (s Status) valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Kind is the direction of a batch operation.
type Kind string

const (
	KindUpload   Kind = "upload"
	KindDownload Kind = "download"
)

func (k Kind) valid() bool {
	return k == KindUpload || k == KindDownload
}

// FileRecord is one item's entry in the checkpoint.
type FileRecord struct {
	Path      string `json:"path"`
	Filename  string `json:"filename"`
	Size      int64  `json:"size"`
	Status    Status `json:"status"`
	Attempts  int    `json:"attempts"`
	LastError string `json:"last_error,omitempty"`
	Checksum  string `json:"checksum,omitempty"`
}

// OperationState is the checkpoint for one batch operation. It exists on disk
// exactly while the operation is not yet fully successful.
type OperationState struct {
	SessionID   string       `json:"session_id"`
	Kind        Kind         `json:"operation"`
	Destination string       `json:"destination"`
	StartedAt   time.Time    `json:"started_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
	Files       []FileRecord `json:"files"`
}

// Record returns the record for the given path, or nil.
func (s *OperationState) Record(path string) *FileRecord {
	for i := range s.Files {
		if s.Files[i].Path == path {
			return &s.Files[i]
		}
	}
	return nil
}

// AllCompleted reports whether every file has reached StatusCompleted.
func (s *OperationState) AllCompleted() bool {
	for i := range s.Files {
		if s.Files[i].Status != StatusCompleted {
			return false
		}
	}
	return true
}

func (s *OperationState) validate() error {
	if !s.Kind.valid() {
		return fmt.Errorf("unknown operation kind %q", s.Kind)
	}
	for _, f := range s.Files {
		if !f.Status.valid() {
			return fmt.Errorf("unknown status %q for %s", f.Status, f.Path)
		}
	}
	return nil
}

func sessionID(kind Kind, destination string, start time.Time) string {
	dest := strings.NewReplacer("s3://", "", "/", "_", " ", "_").Replace(destination)
	dest = strings.Trim(dest, "_")
	return fmt.Sprintf("%s_%s_%s", kind, dest, start.UTC().Format("20060102T150405"))
}
