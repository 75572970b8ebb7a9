package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/avolkov/personaclone/internal/artifacts"
	"github.com/avolkov/personaclone/internal/config"
	"github.com/avolkov/personaclone/internal/progress"
	"github.com/avolkov/personaclone/internal/styleprofile"
	"github.com/avolkov/personaclone/internal/training"
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Fine-tune the persona model on the extracted corpus",
	Long: `Runs a training job over the cleaned corpus with periodic checkpoints,
divergence recovery and early stopping, and stores the result as a new
versioned artifact.`,
	RunE: runTrain,
}

func init() {
	rootCmd.AddCommand(trainCmd)
}

func runTrain(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	c, err := loadCorpus(cfg)
	if err != nil {
		return err
	}

	profiler := styleprofile.NewProfiler(cfg.Corpus.MinCorpusSize)
	profile := profiler.Build(c)

	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	artifactStore := artifacts.NewStore(database, cfg.DataDir)
	orchestrator := training.NewOrchestrator(cfg.Training, training.NewStore(database), artifactStore, cfg.DataDir)

	reporter := progress.NewReporter("Training")
	reporter.Start(cfg.Training.MaxSteps)
	orchestrator.SetProgressFunc(func(step, total int) {
		reporter.Update(step, "")
	})

	baseModelRef := cfg.Model
	if cfg.Provider == config.ProviderLocal || baseModelRef == "" {
		baseModelRef = "local-bigram"
	}

	job, err := orchestrator.Train(context.Background(), c, profile, baseModelRef)
	reporter.Finish()
	if err != nil {
		var diverged *training.DivergenceError
		switch {
		case errors.Is(err, training.ErrInsufficientProfile):
			return fmt.Errorf("style profile is insufficient (%d samples, need %d); collect more exports first",
				profile.SampleCount, cfg.Corpus.MinCorpusSize)
		case errors.As(err, &diverged):
			return fmt.Errorf("training diverged at step %d (loss %.2f) and could not recover; job %s archived as failed",
				diverged.Step, diverged.Loss, diverged.JobID)
		default:
			return err
		}
	}

	artifact, err := artifactStore.Latest(context.Background(), cfg.TargetUser)
	if err != nil {
		return err
	}
	fmt.Printf("Training complete: job %s\n", job.ID)
	fmt.Printf("Artifact v%d (%s) is now active for %s.\n",
		artifact.Version, shortHash(artifact.ContentHash), cfg.TargetUser)
	if job.ResumeCount > 0 {
		fmt.Printf("Note: recovered from divergence once (resumed from checkpoint).\n")
	}
	return nil
}

func shortHash(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}
