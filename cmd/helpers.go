package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/avolkov/personaclone/internal/artifacts"
	"github.com/avolkov/personaclone/internal/config"
	"github.com/avolkov/personaclone/internal/corpus"
	"github.com/avolkov/personaclone/internal/db"
	"github.com/avolkov/personaclone/internal/exemplars"
	"github.com/avolkov/personaclone/internal/llm"
	"github.com/avolkov/personaclone/internal/session"
)

// loadConfig loads and validates the config, providing a user-friendly error.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w\nRun `personaclone init` to create a config file", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// openDatabase opens the SQLite database under the data directory.
func openDatabase(cfg *config.Config) (*db.DB, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return db.Open(filepath.Join(cfg.DataDir, "personaclone.db"))
}

// corpusPath is where clone saves the cleaned corpus for the target user.
func corpusPath(cfg *config.Config) string {
	return filepath.Join(cfg.DataDir, "corpus", cfg.TargetUser+".json")
}

// loadCorpus reads the target user's saved corpus.
func loadCorpus(cfg *config.Config) (*corpus.Corpus, error) {
	c, err := corpus.Load(corpusPath(cfg))
	if err != nil {
		return nil, fmt.Errorf("%w\nRun `personaclone clone <export-path>` first", err)
	}
	return c, nil
}

// newSessionComponents wires the serving stack for the configured
// provider: the artifact store, the session archive and a manager whose
// generator factory matches the provider type.
func newSessionComponents(cfg *config.Config, database *db.DB) (*session.Manager, *session.Store, *artifacts.Store, error) {
	artifactStore := artifacts.NewStore(database, cfg.DataDir)
	sessionStore := session.NewStore(database)

	var factory session.GeneratorFactory
	if cfg.Provider == config.ProviderLocal {
		factory = session.LocalFactory(artifactStore)
	} else {
		provider, err := llm.NewProvider(cfg)
		if err != nil {
			return nil, nil, nil, err
		}
		provider = llm.NewRateLimitedProvider(provider, 60)
		if verbose {
			provider = llm.NewSpendTracker(provider, func(model string, cost float64) {
				if cost > 0 {
					fmt.Fprintf(os.Stderr, "  %s request ~$%.5f\n", model, cost)
				}
			})
		}

		// The exemplar index is optional; without it the persona prompt
		// just omits retrieved examples.
		index, err := exemplars.Load(cfg.DataDir, cfg.TargetUser, nil)
		if err != nil {
			if verbose {
				fmt.Fprintf(os.Stderr, "no exemplar index: %v\n", err)
			}
			index = nil
		}
		factory = session.ProviderFactory(provider, artifactStore, index)
	}

	manager := session.NewManager(cfg.Serving, sessionStore, factory)
	return manager, sessionStore, artifactStore, nil
}
