package config

import "time"

// DefaultConfig returns a Config with sensible defaults. The thresholds
// here are tunable starting points, not inferred behavior.
func DefaultConfig() *Config {
	return &Config{
		DataDir:   ".personaclone",
		Provider:  ProviderLocal,
		Model:     "",
		OllamaURL: "http://localhost:11434",
		Include:   []string{"**/*.json"},
		Corpus: CorpusConfig{
			MinCorpusSize:      50,
			MergeGap:           2 * time.Minute,
			DedupeWindow:       24 * time.Hour,
			MaxContextMessages: 3,
		},
		Training: TrainingConfig{
			CheckpointEvery:   100,
			MaxSteps:          2000,
			DivergenceBound:   12.0,
			EarlyStopPatience: 5,
			Seed:              1,
		},
		Serving: ServingConfig{
			MaxContextTurns:     20,
			StyleDriftThreshold: 0.55,
			GenerationTimeout:   30 * time.Second,
			SessionIdleTimeout:  30 * time.Minute,
			Port:                8790,
		},
	}
}
