package llm

import (
	"context"
	"sync"
)

// modelPricing holds per-model pricing in USD per 1M tokens.
type modelPricing struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

// priceTable maps model identifiers to their pricing. Ollama and the
// local engine run on-device and cost nothing, so only hosted models
// appear here.
var priceTable = map[string]modelPricing{
	"gpt-4o":        {InputPerMillion: 2.50, OutputPerMillion: 10.00},
	"gpt-4o-mini":   {InputPerMillion: 0.15, OutputPerMillion: 0.60},
	"gpt-4.1":       {InputPerMillion: 2.00, OutputPerMillion: 8.00},
	"gpt-4.1-mini":  {InputPerMillion: 0.40, OutputPerMillion: 1.60},
	"gpt-3.5-turbo": {InputPerMillion: 0.50, OutputPerMillion: 1.50},
}

// EstimateCost returns the estimated cost in USD for the given model and
// token counts. Returns 0 if the model is not in the price table.
func EstimateCost(model string, inputTokens, outputTokens int) float64 {
	pricing, ok := priceTable[model]
	if !ok {
		return 0
	}

	inputCost := float64(inputTokens) / 1_000_000.0 * pricing.InputPerMillion
	outputCost := float64(outputTokens) / 1_000_000.0 * pricing.OutputPerMillion
	return inputCost + outputCost
}

// EstimateTokens provides a rough token count estimation for the given text.
// Uses the approximation of 1 token per 4 characters.
func EstimateTokens(text string) int {
	n := len(text) / 4
	if n == 0 && len(text) > 0 {
		return 1
	}
	return n
}

// SpendTracker wraps a provider and accumulates the estimated spend of
// each completed request from the response's token counts. The optional
// onSpend hook fires per request; verbose serving uses it to surface
// per-reply cost.
type SpendTracker struct {
	backend Provider
	onSpend func(model string, cost float64)

	mu    sync.Mutex
	total float64
}

// NewSpendTracker wraps the provider. onSpend may be nil.
func NewSpendTracker(backend Provider, onSpend func(model string, cost float64)) *SpendTracker {
	return &SpendTracker{backend: backend, onSpend: onSpend}
}

func (t *SpendTracker) Name() string {
	return t.backend.Name()
}

func (t *SpendTracker) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	resp, err := t.backend.Complete(ctx, req)
	if err != nil {
		return nil, err
	}

	cost := EstimateCost(resp.Model, resp.InputTokens, resp.OutputTokens)
	t.mu.Lock()
	t.total += cost
	t.mu.Unlock()
	if t.onSpend != nil {
		t.onSpend(resp.Model, cost)
	}
	return resp, nil
}

// Total returns the estimated spend across all completed requests.
func (t *SpendTracker) Total() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total
}
