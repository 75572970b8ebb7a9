package config

import "time"

// ProviderType identifies a base-model provider used for generation.
type ProviderType string

const (
	ProviderLocal  ProviderType = "local"
	ProviderOpenAI ProviderType = "openai"
	ProviderOllama ProviderType = "ollama"
)

// Config is the top-level personaclone configuration, corresponding to
// .personaclone.yml. Fields are the enumerated pipeline options; nothing
// free-form is passed between stages.
type Config struct {
	// TargetUser is the sender identifier whose utterances are cloned.
	TargetUser string `yaml:"target_user" koanf:"target_user"`
	// DataDir holds the corpus, checkpoints, artifacts and SQLite database.
	DataDir string `yaml:"data_dir" koanf:"data_dir"`

	Provider ProviderType `yaml:"provider" koanf:"provider"`
	Model    string       `yaml:"model" koanf:"model"`
	// OllamaURL is the base URL for the ollama provider.
	OllamaURL string `yaml:"ollama_url" koanf:"ollama_url"`

	Corpus   CorpusConfig   `yaml:"corpus" koanf:"corpus"`
	Training TrainingConfig `yaml:"training" koanf:"training"`
	Serving  ServingConfig  `yaml:"serving" koanf:"serving"`

	// Include/Exclude are glob patterns applied when clone is given a
	// directory of export files.
	Include []string `yaml:"include" koanf:"include"`
	Exclude []string `yaml:"exclude" koanf:"exclude"`
}

// CorpusConfig controls export cleaning and corpus construction.
type CorpusConfig struct {
	// MinCorpusSize is the minimum number of authored utterances required
	// before clone or train will proceed.
	MinCorpusSize int `yaml:"min_corpus_size" koanf:"min_corpus_size"`
	// MergeGap merges consecutive same-sender messages closer than this gap.
	MergeGap time.Duration `yaml:"merge_gap" koanf:"merge_gap"`
	// DedupeWindow is the sliding window within which near-duplicate
	// utterances (same normalized-text hash) are dropped.
	DedupeWindow time.Duration `yaml:"dedupe_window" koanf:"dedupe_window"`
	// MaxContextMessages bounds the context side of a training example.
	MaxContextMessages int `yaml:"max_context_messages" koanf:"max_context_messages"`
}

// TrainingConfig controls the fine-tuning orchestrator.
type TrainingConfig struct {
	// CheckpointEvery is the step cadence for checkpoint writes.
	CheckpointEvery int `yaml:"checkpoint_every" koanf:"checkpoint_every"`
	// MaxSteps bounds a training run.
	MaxSteps int `yaml:"max_steps" koanf:"max_steps"`
	// DivergenceBound fails the job when loss exceeds it or becomes non-finite.
	DivergenceBound float64 `yaml:"divergence_bound" koanf:"divergence_bound"`
	// EarlyStopPatience completes the job after this many evaluations
	// without validation improvement.
	EarlyStopPatience int `yaml:"early_stop_patience" koanf:"early_stop_patience"`
	// Seed fixes the training RNG so resumed runs are reproducible.
	Seed int64 `yaml:"seed" koanf:"seed"`
}

// ServingConfig controls inference sessions and the serving adapters.
type ServingConfig struct {
	// MaxContextTurns bounds a session's turn history; oldest dropped first.
	MaxContextTurns int `yaml:"max_context_turns" koanf:"max_context_turns"`
	// StyleDriftThreshold is the minimum acceptable style similarity for a
	// generated reply before one regeneration is attempted.
	StyleDriftThreshold float64 `yaml:"style_drift_threshold" koanf:"style_drift_threshold"`
	// GenerationTimeout bounds a single generation call.
	GenerationTimeout time.Duration `yaml:"generation_timeout" koanf:"generation_timeout"`
	// SessionIdleTimeout closes sessions with no activity.
	SessionIdleTimeout time.Duration `yaml:"session_idle_timeout" koanf:"session_idle_timeout"`
	// Port is the web interface port.
	Port int `yaml:"port" koanf:"port"`
	// BotToken authenticates the messaging-platform webhook.
	BotToken string `yaml:"bot_token" koanf:"bot_token"`
}
