package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tokumeifriends/koinomae-api1/internal/models"
)

// Completer issues a single completion request to an upstream API.
// Implementations report every failure through the returned Outcome and must
// honour ctx cancellation.
type Completer interface {
	Complete(ctx context.Context, req models.CompletionRequest) models.Outcome
}

// CompleterFunc adapts a plain function to the Completer interface.
type CompleterFunc func(ctx context.Context, req models.CompletionRequest) models.Outcome

// Complete calls f.
func (f CompleterFunc) Complete(ctx context.Context, req models.CompletionRequest) models.Outcome {
	return f(ctx, req)
}

// CallWithTimeout runs one attempt against c bounded by timeout. It returns
// no later than the deadline even if c ignores cancellation; in that case
// the attempt is abandoned with its context already cancelled. A panicking
// completer yields a transport failure.
func CallWithTimeout(ctx context.Context, c Completer, req models.CompletionRequest, timeout time.Duration) models.Outcome {
	if c == nil {
		return models.Failed(models.FailureTransport, 500, "completer must not be nil")
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan models.Outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- models.Failed(models.FailureTransport, 500, fmt.Sprintf("completer panic: %v", r))
			}
		}()
		done <- c.Complete(callCtx, req)
	}()

	select {
	case outcome := <-done:
		if !outcome.OK() && callCtx.Err() != nil {
			return contextFailure(callCtx.Err())
		}
		return outcome
	case <-callCtx.Done():
		return contextFailure(callCtx.Err())
	}
}

func contextFailure(err error) models.Outcome {
	if errors.Is(err, context.DeadlineExceeded) {
		return models.Failed(models.FailureTimeout, 500, "timeout")
	}
	return models.Failed(models.FailureCanceled, 500, "canceled")
}
