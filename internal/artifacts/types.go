package artifacts

import (
	"errors"
	"fmt"
	"time"
)

// Artifact is one versioned, immutable model artifact: a training
// checkpoint plus the style profile it was trained against. The store is
// its sole writer; once written an artifact never changes.
type Artifact struct {
	ContentHash     string    `json:"content_hash"`
	UserID          string    `json:"user_id"`
	Version         int       `json:"version"`
	BaseModelRef    string    `json:"base_model_ref"`
	StyleProfileRef string    `json:"style_profile_ref"`
	JobID           string    `json:"job_id"`
	CreatedAt       time.Time `json:"created_at"`
}

// ErrNotFound is returned when no artifact matches a lookup.
var ErrNotFound = errors.New("artifact not found")

// CorruptionError reports that a stored checkpoint's content no longer
// matches its content hash. The store never repairs this; an operator must
// re-train or roll back.
type CorruptionError struct {
	Hash string
	Path string
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("artifact %s: checkpoint at %s does not match its content hash", e.Hash, e.Path)
}
