package llm

import (
	"context"
	"sync"
	"time"
)

// pollInterval is how often a blocked request re-checks the bucket.
const pollInterval = 100 * time.Millisecond

// RateLimitedProvider throttles a backend to a fixed request budget per
// minute. Persona replies go out one at a time per session, so a simple
// token bucket is enough; blocked calls wait for budget rather than fail.
type RateLimitedProvider struct {
	backend Provider
	rpm     int

	mu     sync.Mutex
	budget int
	refill time.Time
}

// NewRateLimitedProvider caps the provider at rpm requests per minute.
func NewRateLimitedProvider(backend Provider, rpm int) Provider {
	return &RateLimitedProvider{
		backend: backend,
		rpm:     rpm,
		budget:  rpm,
		refill:  time.Now(),
	}
}

func (r *RateLimitedProvider) Name() string {
	return r.backend.Name()
}

// Complete waits for budget, then forwards the request unchanged.
func (r *RateLimitedProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	if err := r.acquire(ctx); err != nil {
		return nil, err
	}
	return r.backend.Complete(ctx, req)
}

func (r *RateLimitedProvider) acquire(ctx context.Context) error {
	for {
		if r.take() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// take refills the bucket from elapsed time and claims one slot.
func (r *RateLimitedProvider) take() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	earned := int(now.Sub(r.refill).Seconds() * float64(r.rpm) / 60.0)
	if earned > 0 {
		r.budget += earned
		if r.budget > r.rpm {
			r.budget = r.rpm
		}
		r.refill = now
	}
	if r.budget == 0 {
		return false
	}
	r.budget--
	return true
}
