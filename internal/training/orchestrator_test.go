package training

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/avolkov/personaclone/internal/artifacts"
	"github.com/avolkov/personaclone/internal/config"
	"github.com/avolkov/personaclone/internal/corpus"
	"github.com/avolkov/personaclone/internal/db"
	"github.com/avolkov/personaclone/internal/engine"
	"github.com/avolkov/personaclone/internal/styleprofile"
)

func testTrainingConfig() config.TrainingConfig {
	return config.TrainingConfig{
		CheckpointEvery:   2,
		MaxSteps:          20,
		DivergenceBound:   100,
		EarlyStopPatience: 5,
		Seed:              1,
	}
}

func setupOrchestrator(t *testing.T, cfg config.TrainingConfig) (*Orchestrator, *artifacts.Store) {
	t.Helper()
	database, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	dir := t.TempDir()
	artifactStore := artifacts.NewStore(database, dir)
	o := NewOrchestrator(cfg, NewStore(database), artifactStore, dir)
	return o, artifactStore
}

func testCorpus(userID string, n int) *corpus.Corpus {
	c := &corpus.Corpus{UserID: userID}
	for i := 0; i < n; i++ {
		text := fmt.Sprintf("reply number %d sounds good", i)
		c.Utterances = append(c.Utterances, corpus.CleanedUtterance{
			Text: text, TurnIndex: i,
		})
		c.Examples = append(c.Examples, corpus.TrainingExample{
			Context: []string{"what do you think"},
			Target:  text,
		})
	}
	return c
}

func testProfile(userID string, insufficient bool) *styleprofile.Profile {
	return &styleprofile.Profile{
		UserID:       userID,
		SampleCount:  60,
		Insufficient: insufficient,
		Vector:       []styleprofile.Feature{{Name: styleprofile.FeatureMeanLength, Score: 0.15}},
	}
}

func TestTrainCompletesAndStoresArtifact(t *testing.T) {
	o, store := setupOrchestrator(t, testTrainingConfig())
	ctx := context.Background()

	job, err := o.Train(ctx, testCorpus("alice", 30), testProfile("alice", false), "bigram-v1")
	if err != nil {
		t.Fatalf("Train: %v", err)
	}

	if job.Status != StatusCompleted {
		t.Errorf("status = %s, want completed", job.Status)
	}
	if job.ArtifactHash == "" {
		t.Fatal("completed job has no artifact hash")
	}

	a, err := store.Latest(ctx, "alice")
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if a.ContentHash != job.ArtifactHash {
		t.Errorf("latest artifact %s != job artifact %s", a.ContentHash, job.ArtifactHash)
	}
	if a.BaseModelRef != "bigram-v1" {
		t.Errorf("BaseModelRef = %q", a.BaseModelRef)
	}

	// The stored checkpoint restores into a usable model.
	ckpt, err := store.LoadCheckpoint(a)
	if err != nil {
		t.Fatalf("LoadCheckpoint: %v", err)
	}
	m := engine.New(nil, 1)
	if err := m.Restore(ckpt); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if m.StepCount() == 0 {
		t.Error("restored model has no training steps")
	}

	metrics, err := o.store.Metrics(ctx, job.ID)
	if err != nil {
		t.Fatalf("Metrics: %v", err)
	}
	if len(metrics) == 0 {
		t.Error("no metrics history recorded")
	}
}

func TestTrainRefusesInsufficientProfile(t *testing.T) {
	o, _ := setupOrchestrator(t, testTrainingConfig())

	_, err := o.Train(context.Background(), testCorpus("alice", 30), testProfile("alice", true), "base")
	if !errors.Is(err, ErrInsufficientProfile) {
		t.Errorf("err = %v, want ErrInsufficientProfile", err)
	}
}

// blockingTrainer blocks inside Step until released, to hold a job in the
// running state from a test.
type blockingTrainer struct {
	release chan struct{}
}

func (b *blockingTrainer) Step() (engine.StepMetrics, error) {
	<-b.release
	return engine.StepMetrics{Step: 1, Loss: 1, ValLoss: 1}, nil
}
func (b *blockingTrainer) Snapshot() ([]byte, error) { return json.Marshal(map[string]int{}) }
func (b *blockingTrainer) Restore([]byte) error      { return nil }

func TestConcurrentTrainRejected(t *testing.T) {
	o, _ := setupOrchestrator(t, testTrainingConfig())

	blocker := &blockingTrainer{release: make(chan struct{})}
	o.SetTrainerFactory(func([]engine.Example, int64) engine.Trainer { return blocker })

	done := make(chan struct{})
	go func() {
		defer close(done)
		o.Train(context.Background(), testCorpus("alice", 10), testProfile("alice", false), "base")
	}()

	// Wait until the first job holds the per-user lock.
	deadline := time.After(2 * time.Second)
	for !o.Active("alice") {
		select {
		case <-deadline:
			t.Fatal("first job never became active")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	_, err := o.Train(context.Background(), testCorpus("alice", 10), testProfile("alice", false), "base")
	if !errors.Is(err, ErrTrainingActive) {
		t.Errorf("second train = %v, want ErrTrainingActive", err)
	}
	if o.Active("bob") {
		t.Error("other users should not be marked active")
	}

	close(blocker.release)
	<-done
}

// divergingTrainer reports a spiked loss on one absolute Step call.
// Restore rolls the checkpointed step back but not the call counter, so
// the spike does not recur after a resume.
type divergingTrainer struct {
	calls         int
	step          int
	divergeOnCall int
}

func (d *divergingTrainer) Step() (engine.StepMetrics, error) {
	d.calls++
	d.step++
	loss := 1.0 / float64(d.step)
	if d.calls == d.divergeOnCall {
		loss = 1e12
	}
	return engine.StepMetrics{Step: d.step, Loss: loss, ValLoss: loss}, nil
}

func (d *divergingTrainer) Snapshot() ([]byte, error) { return json.Marshal(d.step) }
func (d *divergingTrainer) Restore(data []byte) error { return json.Unmarshal(data, &d.step) }

func TestDivergenceAutoResumesOnce(t *testing.T) {
	cfg := testTrainingConfig()
	cfg.MaxSteps = 10
	o, _ := setupOrchestrator(t, cfg)

	// Checkpoints land at steps 2 and 4; the spike at call 5 is
	// recovered by restoring the step-4 snapshot.
	trainer := &divergingTrainer{divergeOnCall: 5}
	o.SetTrainerFactory(func([]engine.Example, int64) engine.Trainer { return trainer })

	job, err := o.Train(context.Background(), testCorpus("alice", 10), testProfile("alice", false), "base")
	if err != nil {
		t.Fatalf("Train should recover from a single divergence: %v", err)
	}
	if job.Status != StatusCompleted {
		t.Errorf("status = %s, want completed", job.Status)
	}
	if job.ResumeCount != 1 {
		t.Errorf("ResumeCount = %d, want 1", job.ResumeCount)
	}
}

func TestDivergenceWithoutCheckpointFails(t *testing.T) {
	o, _ := setupOrchestrator(t, testTrainingConfig())

	// Diverges before the first checkpoint exists, so there is nothing
	// to resume from.
	trainer := &divergingTrainer{divergeOnCall: 1}
	o.SetTrainerFactory(func([]engine.Example, int64) engine.Trainer { return trainer })

	job, err := o.Train(context.Background(), testCorpus("alice", 10), testProfile("alice", false), "base")
	var diverged *DivergenceError
	if !errors.As(err, &diverged) {
		t.Fatalf("err = %v, want *DivergenceError", err)
	}
	if diverged.JobID != job.ID {
		t.Errorf("error job id = %s, want %s", diverged.JobID, job.ID)
	}
	if job.Status != StatusFailed {
		t.Errorf("status = %s, want failed", job.Status)
	}
}

// persistentDiverge spikes whenever its checkpointed step reaches the
// trigger, so the divergence recurs after a resume.
type persistentDiverge struct {
	step      int
	divergeAt int
}

func (p *persistentDiverge) Step() (engine.StepMetrics, error) {
	p.step++
	loss := 1.0 / float64(p.step)
	if p.step == p.divergeAt {
		loss = 1e12
	}
	return engine.StepMetrics{Step: p.step, Loss: loss, ValLoss: loss}, nil
}

func (p *persistentDiverge) Snapshot() ([]byte, error) { return json.Marshal(p.step) }
func (p *persistentDiverge) Restore(data []byte) error { return json.Unmarshal(data, &p.step) }

func TestRepeatedDivergenceFails(t *testing.T) {
	cfg := testTrainingConfig()
	cfg.MaxSteps = 10
	o, _ := setupOrchestrator(t, cfg)

	o.SetTrainerFactory(func([]engine.Example, int64) engine.Trainer {
		return &persistentDiverge{divergeAt: 5}
	})

	job, err := o.Train(context.Background(), testCorpus("alice", 10), testProfile("alice", false), "base")
	var diverged *DivergenceError
	if !errors.As(err, &diverged) {
		t.Fatalf("err = %v, want *DivergenceError after exhausted resume", err)
	}
	if job.ResumeCount != 1 {
		t.Errorf("ResumeCount = %d, want 1", job.ResumeCount)
	}
	if job.Status != StatusFailed {
		t.Errorf("status = %s, want failed", job.Status)
	}
}

func TestEarlyStopping(t *testing.T) {
	cfg := testTrainingConfig()
	cfg.MaxSteps = 1000
	cfg.CheckpointEvery = 2
	cfg.EarlyStopPatience = 3
	o, _ := setupOrchestrator(t, cfg)

	// Constant validation loss never improves after the first eval.
	o.SetTrainerFactory(func([]engine.Example, int64) engine.Trainer {
		return &flatTrainer{}
	})

	job, err := o.Train(context.Background(), testCorpus("alice", 10), testProfile("alice", false), "base")
	if err != nil {
		t.Fatalf("Train: %v", err)
	}
	if job.Status != StatusCompleted {
		t.Errorf("status = %s, want completed via early stop", job.Status)
	}

	metrics, err := o.store.Metrics(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("Metrics: %v", err)
	}
	// First eval at step 2 sets the best; three more without improvement
	// stop at step 8 — far short of MaxSteps.
	if len(metrics) >= 100 {
		t.Errorf("ran %d steps, early stopping should have halted long before MaxSteps", len(metrics))
	}
}

type flatTrainer struct{ step int }

func (f *flatTrainer) Step() (engine.StepMetrics, error) {
	f.step++
	return engine.StepMetrics{Step: f.step, Loss: 1, ValLoss: 1}, nil
}
func (f *flatTrainer) Snapshot() ([]byte, error) { return json.Marshal(f.step) }
func (f *flatTrainer) Restore(data []byte) error { return json.Unmarshal(data, &f.step) }

func TestTrainCancelled(t *testing.T) {
	o, _ := setupOrchestrator(t, testTrainingConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	job, err := o.Train(ctx, testCorpus("alice", 10), testProfile("alice", false), "base")
	if err == nil {
		t.Fatal("expected error from cancelled context")
	}
	if job != nil && job.Status != StatusFailed {
		t.Errorf("status = %s, want failed (archived, not deleted)", job.Status)
	}
}

func TestJobsArchived(t *testing.T) {
	o, _ := setupOrchestrator(t, testTrainingConfig())
	ctx := context.Background()

	if _, err := o.Train(ctx, testCorpus("alice", 20), testProfile("alice", false), "base"); err != nil {
		t.Fatalf("Train: %v", err)
	}
	if _, err := o.Train(ctx, testCorpus("alice", 20), testProfile("alice", false), "base"); err != nil {
		t.Fatalf("second Train: %v", err)
	}

	jobs, err := o.Jobs(ctx, "alice")
	if err != nil {
		t.Fatalf("Jobs: %v", err)
	}
	if len(jobs) != 2 {
		t.Errorf("archived jobs = %d, want 2", len(jobs))
	}
	for _, j := range jobs {
		if j.Status != StatusCompleted {
			t.Errorf("job %s status = %s, want completed", j.ID, j.Status)
		}
	}
}

func TestInvalidTransitionRejected(t *testing.T) {
	database, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer database.Close()
	store := NewStore(database)
	ctx := context.Background()

	job, err := store.Create(ctx, "alice", "ref")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Queued cannot jump straight to checkpointing.
	err = store.Transition(ctx, job, StatusCheckpointing)
	var invalid *InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Errorf("err = %v, want *InvalidTransitionError", err)
	}

	// Completed is terminal.
	if err := store.Transition(ctx, job, StatusRunning); err != nil {
		t.Fatalf("to running: %v", err)
	}
	if err := store.Transition(ctx, job, StatusCompleted); err != nil {
		t.Fatalf("to completed: %v", err)
	}
	if err := store.Transition(ctx, job, StatusRunning); err == nil {
		t.Error("completed job must not re-enter running")
	}
}
