package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/manifoldco/promptui"
)

// RunWizard runs an interactive configuration wizard and returns the
// resulting Config. It also saves the config to .personaclone.yml.
func RunWizard() (*Config, error) {
	fmt.Println("Welcome to personaclone! Let's configure your pipeline.")
	fmt.Println()

	cfg := DefaultConfig()

	// 1. Target user whose style gets cloned.
	userPrompt := promptui.Prompt{
		Label: "Sender identifier in the chat export (your name or id)",
		Validate: func(s string) error {
			if s == "" {
				return fmt.Errorf("identifier cannot be empty")
			}
			return nil
		},
	}
	targetUser, err := userPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("target user: %w", err)
	}
	cfg.TargetUser = targetUser

	// 2. Provider selection.
	providerPrompt := promptui.Select{
		Label: "Select base-model provider",
		Items: []string{"local", "openai", "ollama"},
	}
	_, providerStr, err := providerPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("provider selection: %w", err)
	}
	cfg.Provider = ProviderType(providerStr)

	// 3. Model name for remote providers.
	if cfg.Provider != ProviderLocal {
		modelPrompt := promptui.Prompt{
			Label:   "Model name",
			Default: defaultModelFor(cfg.Provider),
		}
		model, err := modelPrompt.Run()
		if err != nil {
			return nil, fmt.Errorf("model: %w", err)
		}
		cfg.Model = model

		if envVar := APIKeyEnvVar(cfg.Provider); envVar != "" && os.Getenv(envVar) == "" {
			fmt.Printf("Note: set %s before running train or demo.\n", envVar)
		}
	}

	// 4. Minimum corpus size.
	minPrompt := promptui.Prompt{
		Label:   "Minimum authored utterances required to train",
		Default: strconv.Itoa(cfg.Corpus.MinCorpusSize),
		Validate: func(s string) error {
			n, err := strconv.Atoi(s)
			if err != nil || n < 1 {
				return fmt.Errorf("must be a positive integer")
			}
			return nil
		},
	}
	minStr, err := minPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("min corpus size: %w", err)
	}
	cfg.Corpus.MinCorpusSize, _ = strconv.Atoi(minStr)

	// 5. Web interface port.
	portPrompt := promptui.Prompt{
		Label:   "Web interface port",
		Default: strconv.Itoa(cfg.Serving.Port),
		Validate: func(s string) error {
			n, err := strconv.Atoi(s)
			if err != nil || n < 1 || n > 65535 {
				return fmt.Errorf("must be a valid port")
			}
			return nil
		},
	}
	portStr, err := portPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("port: %w", err)
	}
	cfg.Serving.Port, _ = strconv.Atoi(portStr)

	if err := cfg.Save(".personaclone.yml"); err != nil {
		return nil, err
	}
	fmt.Println("\nConfiguration saved to .personaclone.yml")

	return cfg, nil
}

func defaultModelFor(p ProviderType) string {
	switch p {
	case ProviderOpenAI:
		return "gpt-4o-mini"
	case ProviderOllama:
		return "llama3.1"
	default:
		return ""
	}
}
