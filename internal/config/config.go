package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"
)

// Load reads configuration from the given YAML file, then overlays
// environment variable overrides (PERSONACLONE_*).
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	// Start from defaults.
	cfg := DefaultConfig()

	// Load YAML file if it exists.
	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("accessing config %s: %w", path, err)
	}

	// Overlay environment variables: PERSONACLONE_TARGET_USER -> target_user,
	// PERSONACLONE_SERVING__PORT -> serving.port.
	if err := k.Load(env.Provider("PERSONACLONE_", ".", func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, "PERSONACLONE_"))
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env overrides: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	return cfg, nil
}

// Save writes the configuration to the given YAML file path.
func (c *Config) Save(path string) error {
	data, err := yamlv3.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// validProviders is the set of recognized provider values.
var validProviders = map[ProviderType]bool{
	ProviderLocal:  true,
	ProviderOpenAI: true,
	ProviderOllama: true,
}

// Validate checks that the configuration contains valid values. It is run
// once at pipeline start; stages receive the validated struct and never
// re-check.
func (c *Config) Validate() error {
	if c.TargetUser == "" {
		return fmt.Errorf("target_user is required")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}

	if !validProviders[c.Provider] {
		return fmt.Errorf("invalid provider %q: must be one of local, openai, ollama", c.Provider)
	}
	if c.Provider == ProviderOpenAI && c.Model == "" {
		return fmt.Errorf("model is required for the openai provider")
	}

	if c.Corpus.MinCorpusSize < 1 {
		return fmt.Errorf("corpus.min_corpus_size must be positive")
	}
	if c.Corpus.MergeGap < 0 {
		return fmt.Errorf("corpus.merge_gap must be non-negative")
	}
	if c.Corpus.DedupeWindow < 0 {
		return fmt.Errorf("corpus.dedupe_window must be non-negative")
	}
	if c.Corpus.MaxContextMessages < 0 {
		return fmt.Errorf("corpus.max_context_messages must be non-negative")
	}

	if c.Training.CheckpointEvery < 1 {
		return fmt.Errorf("training.checkpoint_every must be positive")
	}
	if c.Training.MaxSteps < 1 {
		return fmt.Errorf("training.max_steps must be positive")
	}
	if c.Training.DivergenceBound <= 0 {
		return fmt.Errorf("training.divergence_bound must be positive")
	}
	if c.Training.EarlyStopPatience < 1 {
		return fmt.Errorf("training.early_stop_patience must be positive")
	}

	if c.Serving.MaxContextTurns < 1 {
		return fmt.Errorf("serving.max_context_turns must be positive")
	}
	if c.Serving.StyleDriftThreshold < 0 || c.Serving.StyleDriftThreshold > 1 {
		return fmt.Errorf("serving.style_drift_threshold must be between 0 and 1")
	}
	if c.Serving.GenerationTimeout <= 0 {
		return fmt.Errorf("serving.generation_timeout must be positive")
	}
	if c.Serving.Port < 0 || c.Serving.Port > 65535 {
		return fmt.Errorf("serving.port must be a valid port number")
	}

	return nil
}

// APIKeyEnvVar returns the conventional environment variable name for
// the API key of the given provider.
func APIKeyEnvVar(provider ProviderType) string {
	if provider == ProviderOpenAI {
		return "OPENAI_API_KEY"
	}
	return ""
}
