package artifacts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// RetentionClass selects how long an artifact outlives its run.
type RetentionClass string

const (
	RetentionStandard RetentionClass = "standard"
	// RetentionAudit keeps blackboards of failed runs around for debugging.
	RetentionAudit RetentionClass = "audit"
)

const pointerScheme = "artifact://"

var (
	ErrNotFound = errors.New("artifact not found")
	// ErrCorrupt means the stored bytes no longer match the recorded digest.
	ErrCorrupt = errors.New("artifact digest mismatch")
)

// Metadata describes one stored artifact. SizeBytes, Digest and CreatedAt
// are filled in by the store.
type Metadata struct {
	JobID       string         `json:"job_id,omitempty"`
	WorkflowID  string         `json:"workflow_id,omitempty"`
	Kind        string         `json:"kind,omitempty"`
	ContentType string         `json:"content_type,omitempty"`
	Retention   RetentionClass `json:"retention,omitempty"`
	SizeBytes   int64          `json:"size_bytes"`
	Digest      string         `json:"digest,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Store keeps run artifacts addressed by opaque pointers.
type Store interface {
	Put(ctx context.Context, content []byte, meta Metadata) (string, error)
	Get(ctx context.Context, ptr string) ([]byte, Metadata, error)
	// ListForJob returns the pointers stored for a job, oldest first.
	ListForJob(ctx context.Context, jobID string) ([]string, error)
}

func pointerFor(id string) string { return pointerScheme + id }

// IDFromPointer extracts the artifact id from an artifact:// pointer.
func IDFromPointer(ptr string) (string, error) {
	id, ok := strings.CutPrefix(strings.TrimSpace(ptr), pointerScheme)
	if !ok {
		return "", fmt.Errorf("unsupported artifact pointer %q", ptr)
	}
	if id == "" || strings.ContainsAny(id, ":/") {
		return "", fmt.Errorf("malformed artifact pointer %q", ptr)
	}
	return id, nil
}
