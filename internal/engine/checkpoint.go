package engine

import (
	"encoding/json"
	"fmt"
)

// checkpoint is the serialized resumable state. Training examples are not
// part of it; a restored model is re-attached to the same corpus by the
// orchestrator. JSON map keys encode sorted, so identical states produce
// identical bytes and stable content hashes downstream.
type checkpoint struct {
	Seed    int64                         `json:"seed"`
	Step    int                           `json:"step"`
	Total   float64                       `json:"total"`
	Bigrams map[string]map[string]float64 `json:"bigrams"`
}

// Snapshot serializes the model's trained state.
func (m *Model) Snapshot() ([]byte, error) {
	data, err := json.Marshal(checkpoint{
		Seed:    m.seed,
		Step:    m.step,
		Total:   m.total,
		Bigrams: m.bigrams,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding checkpoint: %w", err)
	}
	return data, nil
}

// Restore replaces the model's trained state with a snapshot. The example
// split is untouched.
func (m *Model) Restore(data []byte) error {
	var cp checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return fmt.Errorf("decoding checkpoint: %w", err)
	}
	if cp.Bigrams == nil {
		cp.Bigrams = map[string]map[string]float64{}
	}

	m.seed = cp.Seed
	m.step = cp.Step
	m.total = cp.Total
	m.bigrams = cp.Bigrams
	return nil
}
