package llm

import (
	"fmt"
	"os"

	"github.com/avolkov/personaclone/internal/config"
)

// NewProvider creates a remote provider for the configured backend.
// The "local" backend generates on-device and has no remote provider;
// callers dispatch on the provider type before reaching here.
func NewProvider(cfg *config.Config) (Provider, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI:
		apiKey := os.Getenv(config.APIKeyEnvVar(config.ProviderOpenAI))
		if apiKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY environment variable is not set")
		}
		return NewOpenAIProvider(apiKey, cfg.Model), nil

	case config.ProviderOllama:
		baseURL := cfg.OllamaURL
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		return NewOllamaProvider(baseURL, cfg.Model), nil

	default:
		return nil, fmt.Errorf("provider %q has no remote backend", cfg.Provider)
	}
}
