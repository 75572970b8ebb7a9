package training

import (
	"errors"
	"fmt"
	"time"
)

// Status is a training job's lifecycle state.
type Status string

const (
	StatusQueued        Status = "queued"
	StatusRunning       Status = "running"
	StatusCheckpointing Status = "checkpointing"
	StatusCompleted     Status = "completed"
	StatusFailed        Status = "failed"
)

// validTransitions is the job state machine. Running is re-enterable from
// Checkpointing (normal cadence) and from itself (resume after
// divergence restores the last good checkpoint).
var validTransitions = map[Status][]Status{
	StatusQueued:        {StatusRunning, StatusFailed},
	StatusRunning:       {StatusCheckpointing, StatusCompleted, StatusFailed, StatusRunning},
	StatusCheckpointing: {StatusRunning, StatusCompleted, StatusFailed},
}

func canTransition(from, to Status) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Metric is one recorded training measurement.
type Metric struct {
	Step    int     `json:"step"`
	Loss    float64 `json:"loss"`
	ValLoss float64 `json:"val_loss"`
}

// Job is one fine-tuning job. Owned exclusively by the orchestrator and
// mutated only through its state machine; completed and failed jobs are
// archived, never deleted.
type Job struct {
	ID            string
	UserID        string
	CorpusRef     string
	Status        Status
	CheckpointRef string
	ArtifactHash  string
	Error         string
	ResumeCount   int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ErrTrainingActive rejects a train request while another job is running
// for the same user. Contention is surfaced, not queued silently.
var ErrTrainingActive = errors.New("a training job is already running for this user")

// ErrInsufficientProfile refuses training on a profile whose sample count
// is below the configured minimum.
var ErrInsufficientProfile = errors.New("style profile has too few samples for training")

// DivergenceError reports a diverged job: loss exceeded the configured
// bound or became non-finite, and the single checkpoint resume did not
// recover it.
type DivergenceError struct {
	JobID string
	Step  int
	Loss  float64
}

func (e *DivergenceError) Error() string {
	return fmt.Sprintf("training job %s diverged at step %d (loss %g)", e.JobID, e.Step, e.Loss)
}

// InvalidTransitionError reports a state-machine violation.
type InvalidTransitionError struct {
	JobID string
	From  Status
	To    Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("job %s: invalid transition %s -> %s", e.JobID, e.From, e.To)
}
