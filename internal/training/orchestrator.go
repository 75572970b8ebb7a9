package training

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"sync"

	"github.com/avolkov/personaclone/internal/artifacts"
	"github.com/avolkov/personaclone/internal/config"
	"github.com/avolkov/personaclone/internal/corpus"
	"github.com/avolkov/personaclone/internal/engine"
	"github.com/avolkov/personaclone/internal/styleprofile"
)

// TrainerFactory builds the trainer a job drives. The default constructs
// the local engine; tests substitute faulty trainers.
type TrainerFactory func(examples []engine.Example, seed int64) engine.Trainer

// ProgressFunc receives (completed steps, max steps) during a run.
type ProgressFunc func(step, total int)

// Orchestrator manages the lifecycle of fine-tuning jobs: queuing,
// checkpointing, divergence recovery, early stopping and artifact
// handoff. At most one job runs per user at a time.
type Orchestrator struct {
	cfg       config.TrainingConfig
	store     *Store
	artifacts *artifacts.Store
	dataDir   string
	factory   TrainerFactory

	mu     sync.Mutex
	active map[string]struct{} // user ids with a running job

	onProgress ProgressFunc
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(cfg config.TrainingConfig, store *Store, artifactStore *artifacts.Store, dataDir string) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		store:     store,
		artifacts: artifactStore,
		dataDir:   dataDir,
		factory: func(examples []engine.Example, seed int64) engine.Trainer {
			return engine.New(examples, seed)
		},
		active: map[string]struct{}{},
	}
}

// SetTrainerFactory overrides how trainers are constructed.
func (o *Orchestrator) SetTrainerFactory(f TrainerFactory) { o.factory = f }

// SetProgressFunc sets the step progress callback.
func (o *Orchestrator) SetProgressFunc(fn ProgressFunc) { o.onProgress = fn }

// Train runs a fine-tuning job for the corpus's user and blocks until it
// completes or fails. A second call for the same user while one is
// running is rejected immediately with ErrTrainingActive.
func (o *Orchestrator) Train(ctx context.Context, c *corpus.Corpus, profile *styleprofile.Profile, baseModelRef string) (*Job, error) {
	if profile.Insufficient {
		return nil, ErrInsufficientProfile
	}

	o.mu.Lock()
	if _, busy := o.active[c.UserID]; busy {
		o.mu.Unlock()
		return nil, ErrTrainingActive
	}
	o.active[c.UserID] = struct{}{}
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		delete(o.active, c.UserID)
		o.mu.Unlock()
	}()

	corpusRef, err := c.Hash()
	if err != nil {
		return nil, err
	}

	job, err := o.store.Create(ctx, c.UserID, corpusRef)
	if err != nil {
		return nil, err
	}

	if err := o.run(ctx, job, c, profile, baseModelRef); err != nil {
		job.Error = err.Error()
		if job.Status != StatusFailed {
			if terr := o.store.Transition(ctx, job, StatusFailed); terr != nil {
				return job, fmt.Errorf("%w (also failed to archive: %v)", err, terr)
			}
		}
		return job, err
	}
	return job, nil
}

// run drives the job state machine to completion.
func (o *Orchestrator) run(ctx context.Context, job *Job, c *corpus.Corpus, profile *styleprofile.Profile, baseModelRef string) error {
	examples := make([]engine.Example, 0, len(c.Examples))
	for _, ex := range c.Examples {
		examples = append(examples, engine.Example{
			Context: flattenContext(ex.Context),
			Target:  ex.Target,
		})
	}
	if len(examples) == 0 {
		return fmt.Errorf("corpus has no training examples")
	}

	trainer := o.factory(examples, o.cfg.Seed)

	if err := o.store.Transition(ctx, job, StatusRunning); err != nil {
		return err
	}

	ckptPath := filepath.Join(o.dataDir, "checkpoints", job.ID+".ckpt")

	var (
		bestVal      = math.Inf(1)
		sinceImprove int
		lastGood     []byte
	)

	for step := 1; step <= o.cfg.MaxSteps; step++ {
		select {
		case <-ctx.Done():
			return fmt.Errorf("training cancelled: %w", ctx.Err())
		default:
		}

		m, err := trainer.Step()
		if err != nil {
			return fmt.Errorf("training step %d: %w", step, err)
		}
		if err := o.store.RecordMetric(ctx, job.ID, Metric{Step: m.Step, Loss: m.Loss, ValLoss: m.ValLoss}); err != nil {
			return err
		}
		if o.onProgress != nil {
			o.onProgress(step, o.cfg.MaxSteps)
		}

		// Divergence: auto-resume once from the last good checkpoint,
		// then give up.
		if diverged(m.Loss, o.cfg.DivergenceBound) || diverged(m.ValLoss, o.cfg.DivergenceBound) {
			if job.ResumeCount == 0 && lastGood != nil {
				if err := trainer.Restore(lastGood); err != nil {
					return fmt.Errorf("restoring checkpoint after divergence: %w", err)
				}
				job.ResumeCount++
				if err := o.store.Transition(ctx, job, StatusRunning); err != nil {
					return err
				}
				continue
			}
			job.Error = (&DivergenceError{JobID: job.ID, Step: m.Step, Loss: m.Loss}).Error()
			if err := o.store.Transition(ctx, job, StatusFailed); err != nil {
				return err
			}
			return &DivergenceError{JobID: job.ID, Step: m.Step, Loss: m.Loss}
		}

		// Checkpoint cadence; evaluation for early stopping happens at
		// the same cadence.
		if step%o.cfg.CheckpointEvery == 0 {
			if err := o.store.Transition(ctx, job, StatusCheckpointing); err != nil {
				return err
			}
			snap, err := trainer.Snapshot()
			if err != nil {
				return fmt.Errorf("snapshotting at step %d: %w", step, err)
			}
			if err := WriteCheckpoint(ckptPath, snap); err != nil {
				return err
			}
			lastGood = snap
			job.CheckpointRef = ckptPath
			if err := o.store.Transition(ctx, job, StatusRunning); err != nil {
				return err
			}

			if m.ValLoss < bestVal {
				bestVal = m.ValLoss
				sinceImprove = 0
			} else {
				sinceImprove++
				if sinceImprove >= o.cfg.EarlyStopPatience {
					break
				}
			}
		}
	}

	// Final checkpoint becomes the artifact.
	snap, err := trainer.Snapshot()
	if err != nil {
		return fmt.Errorf("final snapshot: %w", err)
	}
	if err := WriteCheckpoint(ckptPath, snap); err != nil {
		return err
	}
	job.CheckpointRef = ckptPath

	artifact, err := o.artifacts.Put(ctx, snap, profile, baseModelRef, job.ID)
	if err != nil {
		return fmt.Errorf("storing artifact: %w", err)
	}
	job.ArtifactHash = artifact.ContentHash

	return o.store.Transition(ctx, job, StatusCompleted)
}

// Active reports whether a job is currently running for the user.
func (o *Orchestrator) Active(userID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, busy := o.active[userID]
	return busy
}

// Jobs returns the user's archived job history.
func (o *Orchestrator) Jobs(ctx context.Context, userID string) ([]Job, error) {
	return o.store.ListByUser(ctx, userID)
}

func diverged(loss, bound float64) bool {
	return math.IsNaN(loss) || math.IsInf(loss, 0) || loss > bound
}

func flattenContext(ctx []string) string {
	var out string
	for i, c := range ctx {
		if i > 0 {
			out += " | "
		}
		out += c
	}
	return out
}
