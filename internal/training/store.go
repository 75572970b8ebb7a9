package training

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/avolkov/personaclone/internal/db"
)

// Store persists training jobs and their metrics history.
type Store struct {
	db *db.DB
}

// NewStore creates a Store backed by the given database.
func NewStore(database *db.DB) *Store {
	return &Store{db: database}
}

// Create inserts a new queued job.
func (s *Store) Create(ctx context.Context, userID, corpusRef string) (*Job, error) {
	job := &Job{
		ID:        uuid.New().String(),
		UserID:    userID,
		CorpusRef: corpusRef,
		Status:    StatusQueued,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO training_jobs (id, user_id, corpus_ref, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		job.ID, job.UserID, job.CorpusRef, string(job.Status),
		job.CreatedAt.Format(time.RFC3339), job.UpdatedAt.Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("inserting training job: %w", err)
	}
	return job, nil
}

// Transition moves a job to a new status, enforcing the state machine.
func (s *Store) Transition(ctx context.Context, job *Job, to Status) error {
	if !canTransition(job.Status, to) {
		return &InvalidTransitionError{JobID: job.ID, From: job.Status, To: to}
	}

	job.Status = to
	job.UpdatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		UPDATE training_jobs
		SET status = ?, checkpoint_ref = ?, artifact_hash = ?, error = ?, resume_count = ?, updated_at = ?
		WHERE id = ?`,
		string(job.Status), job.CheckpointRef, job.ArtifactHash, job.Error,
		job.ResumeCount, job.UpdatedAt.Format(time.RFC3339), job.ID)
	if err != nil {
		return fmt.Errorf("updating job %s: %w", job.ID, err)
	}
	return nil
}

// RecordMetric appends one metrics row to the job's history.
func (s *Store) RecordMetric(ctx context.Context, jobID string, m Metric) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO job_metrics (job_id, step, loss, val_loss)
		VALUES (?, ?, ?, ?)`,
		jobID, m.Step, m.Loss, m.ValLoss)
	if err != nil {
		return fmt.Errorf("recording metric for job %s: %w", jobID, err)
	}
	return nil
}

// Metrics returns a job's full metrics history in step order.
func (s *Store) Metrics(ctx context.Context, jobID string) ([]Metric, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT step, loss, val_loss FROM job_metrics WHERE job_id = ? ORDER BY step`, jobID)
	if err != nil {
		return nil, fmt.Errorf("querying metrics for job %s: %w", jobID, err)
	}
	defer rows.Close()

	var out []Metric
	for rows.Next() {
		var m Metric
		if err := rows.Scan(&m.Step, &m.Loss, &m.ValLoss); err != nil {
			return nil, fmt.Errorf("scanning metric: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Get returns a job by id.
func (s *Store) Get(ctx context.Context, jobID string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, corpus_ref, status, checkpoint_ref, artifact_hash, error, resume_count, created_at, updated_at
		FROM training_jobs WHERE id = ?`, jobID)
	return scanJob(row)
}

// ListByUser returns a user's jobs, newest first.
func (s *Store) ListByUser(ctx context.Context, userID string) ([]Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, corpus_ref, status, checkpoint_ref, artifact_hash, error, resume_count, created_at, updated_at
		FROM training_jobs WHERE user_id = ? ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *j)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(sc scanner) (*Job, error) {
	var (
		j                    Job
		status               string
		createdAt, updatedAt string
	)
	err := sc.Scan(&j.ID, &j.UserID, &j.CorpusRef, &status, &j.CheckpointRef,
		&j.ArtifactHash, &j.Error, &j.ResumeCount, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("job not found")
	}
	if err != nil {
		return nil, fmt.Errorf("scanning job: %w", err)
	}

	j.Status = Status(status)
	if t, perr := time.Parse(time.RFC3339, createdAt); perr == nil {
		j.CreatedAt = t
	}
	if t, perr := time.Parse(time.RFC3339, updatedAt); perr == nil {
		j.UpdatedAt = t
	}
	return &j, nil
}
