// Package mock provides test doubles for provider interfaces using function fields.
package mock

import (
	"context"
	"sync"

	"github.com/tokumeifriends/koinomae-api1/internal/models"
	"github.com/tokumeifriends/koinomae-api1/internal/provider"
)

var _ provider.Completer = (*Completer)(nil)

// Completer is a test double for provider.Completer.
// Set CompleteFn before calling Complete. Every call is recorded.
type Completer struct {
	CompleteFn func(ctx context.Context, req models.CompletionRequest) models.Outcome

	mu       sync.Mutex
	requests []models.CompletionRequest
}

// Complete records req and delegates to CompleteFn.
func (c *Completer) Complete(ctx context.Context, req models.CompletionRequest) models.Outcome {
	c.mu.Lock()
	c.requests = append(c.requests, req)
	c.mu.Unlock()
	return c.CompleteFn(ctx, req)
}

// Calls returns the number of Complete invocations.
func (c *Completer) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

// Requests returns a copy of every request received, in call order.
func (c *Completer) Requests() []models.CompletionRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.CompletionRequest, len(c.requests))
	copy(out, c.requests)
	return out
}

// ByModel returns a CompleteFn that answers from outcomes keyed by model id.
// Unknown models fail with a 404 status.
func ByModel(outcomes map[string]models.Outcome) func(context.Context, models.CompletionRequest) models.Outcome {
	return func(_ context.Context, req models.CompletionRequest) models.Outcome {
		if o, ok := outcomes[req.Model]; ok {
			return o
		}
		return models.Failed(models.FailureStatus, 404, "unknown model "+req.Model)
	}
}
