// Package engine implements the local trainable model behind the training
// orchestrator: a smoothed bigram language model with deterministic,
// seeded training steps and checkpointable state. It stands in for an
// external fine-tuning library behind a narrow Trainer surface.
package engine

import (
	"fmt"
	"math"
	"math/rand"
	"strings"
)

const (
	startToken = "<s>"
	endToken   = "</s>"

	batchSize   = 16
	smoothing   = 0.1
	evalHoldout = 10 // every n-th example is validation
)

// StepMetrics reports one training step.
type StepMetrics struct {
	Step    int
	Loss    float64
	ValLoss float64
}

// Trainer is the surface the training orchestrator drives. Snapshot and
// Restore carry the full resumable state, so a restored trainer with the
// same seed reproduces the metrics trajectory of an uninterrupted run.
type Trainer interface {
	Step() (StepMetrics, error)
	Snapshot() ([]byte, error)
	Restore(data []byte) error
}

// Example is one supervised training pair flattened to token streams.
type Example struct {
	Context string
	Target  string
}

// Model is a bigram language model over the target user's utterances.
type Model struct {
	seed int64
	step int

	bigrams map[string]map[string]float64
	total   float64

	train []Example
	val   []Example
}

// New creates an untrained model over the given examples with a fixed
// seed. Every tenth example is held out for validation.
func New(examples []Example, seed int64) *Model {
	m := &Model{
		seed:    seed,
		bigrams: map[string]map[string]float64{},
	}
	for i, ex := range examples {
		if evalHoldout > 0 && (i+1)%evalHoldout == 0 {
			m.val = append(m.val, ex)
		} else {
			m.train = append(m.train, ex)
		}
	}
	return m
}

// Step runs one training step: score a seeded batch under the current
// parameters, then absorb the batch's counts. Loss falls as the model
// fits; the trajectory is a pure function of (examples, seed, step).
func (m *Model) Step() (StepMetrics, error) {
	if len(m.train) == 0 {
		return StepMetrics{}, fmt.Errorf("no training examples")
	}

	rng := rand.New(rand.NewSource(m.seed + int64(m.step)))

	batch := make([]Example, 0, batchSize)
	for i := 0; i < batchSize; i++ {
		batch = append(batch, m.train[rng.Intn(len(m.train))])
	}

	loss := m.batchLoss(batch)

	for _, ex := range batch {
		m.absorb(ex)
	}
	m.step++

	return StepMetrics{
		Step:    m.step,
		Loss:    loss,
		ValLoss: m.EvalLoss(),
	}, nil
}

// EvalLoss returns the mean negative log likelihood over the validation
// holdout, or the training loss proxy when no holdout exists.
func (m *Model) EvalLoss() float64 {
	if len(m.val) == 0 {
		return m.batchLoss(m.train)
	}
	return m.batchLoss(m.val)
}

// StepCount returns the number of completed training steps.
func (m *Model) StepCount() int { return m.step }

func (m *Model) batchLoss(batch []Example) float64 {
	var total float64
	pairs := 0
	for _, ex := range batch {
		tokens := tokenize(ex.Target)
		prev := startToken
		for _, tok := range append(tokens, endToken) {
			total += -math.Log(m.prob(prev, tok))
			pairs++
			prev = tok
		}
	}
	if pairs == 0 {
		return 0
	}
	return total / float64(pairs)
}

// absorb adds an example's bigram counts to the model.
func (m *Model) absorb(ex Example) {
	tokens := tokenize(ex.Target)
	prev := startToken
	for _, tok := range append(tokens, endToken) {
		row := m.bigrams[prev]
		if row == nil {
			row = map[string]float64{}
			m.bigrams[prev] = row
		}
		row[tok]++
		m.total++
		prev = tok
	}
}

// prob is the add-k smoothed bigram probability p(next | prev).
func (m *Model) prob(prev, next string) float64 {
	row := m.bigrams[prev]
	var count, rowTotal float64
	if row != nil {
		count = row[next]
		for _, c := range row {
			rowTotal += c
		}
	}
	vocab := float64(len(m.bigrams) + 2)
	return (count + smoothing) / (rowTotal + smoothing*vocab)
}

// tokenize lowercases and splits text into word tokens.
func tokenize(text string) []string {
	return strings.Fields(strings.ToLower(text))
}
