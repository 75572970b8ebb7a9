package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/avolkov/personaclone/internal/artifacts"
	"github.com/avolkov/personaclone/internal/engine"
	"github.com/avolkov/personaclone/internal/exemplars"
	"github.com/avolkov/personaclone/internal/llm"
	"github.com/avolkov/personaclone/internal/styleprofile"
)

// Request carries one generation attempt. History is oldest-first and
// already truncated to the serving context window.
type Request struct {
	History     []Turn
	Incoming    string
	Temperature float64
	MaxWords    int
}

// Generator produces a reply in the persona's voice.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// GeneratorFactory resolves a user's active persona artifact into a
// Generator. Build runs when a session opens; LatestHash is a cheap
// probe the manager uses before each reply, so a rollback or a training
// job completing mid-session takes effect on the next reply without
// rebuilding a generator that has not changed.
type GeneratorFactory interface {
	LatestHash(ctx context.Context, userID string) (string, error)
	Build(ctx context.Context, userID string) (Generator, *styleprofile.Profile, string, error)
}

// localGenerator replies with the on-device engine restored from the
// artifact checkpoint.
type localGenerator struct {
	model *engine.Model
}

func (g *localGenerator) Generate(ctx context.Context, req Request) (string, error) {
	parts := make([]string, 0, len(req.History)+1)
	for _, t := range req.History {
		parts = append(parts, t.Text)
	}
	parts = append(parts, req.Incoming)

	return g.model.Generate(ctx, strings.Join(parts, " | "), engine.SamplingParams{
		Temperature: req.Temperature,
		MaxWords:    req.MaxWords,
	})
}

// LocalFactory builds generators backed by the local engine.
func LocalFactory(store *artifacts.Store) GeneratorFactory {
	return &localFactory{store: store}
}

type localFactory struct {
	store *artifacts.Store
}

func (f *localFactory) LatestHash(ctx context.Context, userID string) (string, error) {
	return latestHash(ctx, f.store, userID)
}

func (f *localFactory) Build(ctx context.Context, userID string) (Generator, *styleprofile.Profile, string, error) {
	artifact, profile, err := resolveArtifact(ctx, f.store, userID)
	if err != nil {
		return nil, nil, "", err
	}

	ckpt, err := f.store.LoadCheckpoint(artifact)
	if err != nil {
		return nil, nil, "", fmt.Errorf("loading checkpoint: %w", err)
	}
	model := engine.New(nil, 0)
	if err := model.Restore(ckpt); err != nil {
		return nil, nil, "", fmt.Errorf("restoring model: %w", err)
	}
	return &localGenerator{model: model}, profile, artifact.ContentHash, nil
}

// historyTokenBudget bounds how much conversation history a remote
// prompt carries.
const historyTokenBudget = 2048

// providerGenerator replies through a remote completion backend with a
// persona prompt assembled from the style profile and retrieved
// exemplars.
type providerGenerator struct {
	provider llm.Provider
	profile  *styleprofile.Profile
	index    *exemplars.Index
}

func (g *providerGenerator) Generate(ctx context.Context, req Request) (string, error) {
	messages := []llm.Message{{Role: llm.RoleSystem, Content: g.personaPrompt(ctx, req.Incoming)}}

	// Walk history newest-first and keep what fits the token budget.
	budget := historyTokenBudget
	var kept []Turn
	for i := len(req.History) - 1; i >= 0; i-- {
		cost := llm.EstimateTokens(req.History[i].Text)
		if budget-cost < 0 {
			break
		}
		budget -= cost
		kept = append([]Turn{req.History[i]}, kept...)
	}

	for _, t := range kept {
		role := llm.RoleUser
		if t.Role == RoleAssistant {
			role = llm.RoleAssistant
		}
		messages = append(messages, llm.Message{Role: role, Content: t.Text})
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: req.Incoming})

	resp, err := g.provider.Complete(ctx, llm.CompletionRequest{
		Messages:    messages,
		MaxTokens:   req.MaxWords * 2,
		Temperature: req.Temperature,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}

// personaPrompt instructs the model to answer in the cloned user's
// voice, seeded with the closest utterances from their corpus.
func (g *providerGenerator) personaPrompt(ctx context.Context, incoming string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s replying in a private chat. Write exactly as they do: match their typical message length, punctuation and emoji habits. Never mention being an assistant.\n", g.profile.UserID)

	if len(g.profile.TopWords) > 0 {
		fmt.Fprintf(&b, "Words they often use: %s.\n", strings.Join(g.profile.TopWords, ", "))
	}

	if g.index != nil {
		if found, err := g.index.Nearest(ctx, incoming, 5); err == nil && len(found) > 0 {
			b.WriteString("Examples of how they actually write:\n")
			for _, e := range found {
				fmt.Fprintf(&b, "- %s\n", e.Text)
			}
		}
	}
	return b.String()
}

// ProviderFactory builds generators backed by a remote provider. The
// exemplar index may be nil when no index has been built.
func ProviderFactory(provider llm.Provider, store *artifacts.Store, index *exemplars.Index) GeneratorFactory {
	return &providerFactory{provider: provider, store: store, index: index}
}

type providerFactory struct {
	provider llm.Provider
	store    *artifacts.Store
	index    *exemplars.Index
}

func (f *providerFactory) LatestHash(ctx context.Context, userID string) (string, error) {
	return latestHash(ctx, f.store, userID)
}

func (f *providerFactory) Build(ctx context.Context, userID string) (Generator, *styleprofile.Profile, string, error) {
	artifact, profile, err := resolveArtifact(ctx, f.store, userID)
	if err != nil {
		return nil, nil, "", err
	}
	return &providerGenerator{provider: f.provider, profile: profile, index: f.index}, profile, artifact.ContentHash, nil
}

func latestHash(ctx context.Context, store *artifacts.Store, userID string) (string, error) {
	artifact, err := store.Latest(ctx, userID)
	if err != nil {
		if errors.Is(err, artifacts.ErrNotFound) {
			return "", ErrNoArtifact
		}
		return "", err
	}
	return artifact.ContentHash, nil
}

func resolveArtifact(ctx context.Context, store *artifacts.Store, userID string) (*artifacts.Artifact, *styleprofile.Profile, error) {
	artifact, err := store.Latest(ctx, userID)
	if err != nil {
		if errors.Is(err, artifacts.ErrNotFound) {
			return nil, nil, ErrNoArtifact
		}
		return nil, nil, err
	}
	profile, err := store.LoadProfile(artifact)
	if err != nil {
		return nil, nil, fmt.Errorf("loading style profile: %w", err)
	}
	return artifact, profile, nil
}
