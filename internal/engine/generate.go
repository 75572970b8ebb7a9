package engine

import (
	"context"
	"math"
	"math/rand"
	"sort"
	"strings"
)

// SamplingParams control generation.
type SamplingParams struct {
	// Temperature flattens (>1) or sharpens (<1) the next-token
	// distribution. Zero means 0.8.
	Temperature float64
	// MaxWords bounds the generated length. Zero means 40.
	MaxWords int
	// Seed fixes sampling; zero derives one from the prompt.
	Seed int64
}

func (p SamplingParams) withDefaults() SamplingParams {
	if p.Temperature <= 0 {
		p.Temperature = 0.8
	}
	if p.MaxWords <= 0 {
		p.MaxWords = 40
	}
	return p
}

// Generate samples a reply conditioned on the prompt's trailing words.
// Deterministic for a fixed model state, prompt and seed. The context is
// checked between tokens so a cancelled generation returns early.
func (m *Model) Generate(ctx context.Context, prompt string, params SamplingParams) (string, error) {
	params = params.withDefaults()

	seed := params.Seed
	if seed == 0 {
		seed = m.seed + int64(len(prompt))
	}
	rng := rand.New(rand.NewSource(seed))

	// Start from the last prompt word the model knows, else the start token.
	prev := startToken
	for _, tok := range tokenize(prompt) {
		if _, ok := m.bigrams[tok]; ok {
			prev = tok
		}
	}

	var words []string
	for len(words) < params.MaxWords {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		next := m.sample(prev, params.Temperature, rng)
		if next == endToken || next == "" {
			break
		}
		words = append(words, next)
		prev = next
	}

	return strings.Join(words, " "), nil
}

// sample draws the next token from the temperature-scaled bigram row.
func (m *Model) sample(prev string, temperature float64, rng *rand.Rand) string {
	row := m.bigrams[prev]
	if len(row) == 0 {
		row = m.bigrams[startToken]
		if len(row) == 0 {
			return ""
		}
	}

	// Sorted tokens keep sampling deterministic across runs.
	tokens := make([]string, 0, len(row))
	for tok := range row {
		tokens = append(tokens, tok)
	}
	sort.Strings(tokens)

	weights := make([]float64, len(tokens))
	var total float64
	for i, tok := range tokens {
		w := math.Pow(row[tok], 1/temperature)
		weights[i] = w
		total += w
	}

	target := rng.Float64() * total
	var acc float64
	for i, w := range weights {
		acc += w
		if target <= acc {
			return tokens[i]
		}
	}
	return tokens[len(tokens)-1]
}
