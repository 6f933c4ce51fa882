package router

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/tokumeifriends/koinomae-api1/internal/metrics"
	"github.com/tokumeifriends/koinomae-api1/internal/models"
	"github.com/tokumeifriends/koinomae-api1/internal/provider"
)

// DefaultTimeout bounds a single upstream attempt when none is configured.
const DefaultTimeout = 20 * time.Second

// Resolution reports how a candidate sequence ended. Text is empty exactly
// when every candidate failed.
type Resolution struct {
	Text     string
	Model    string
	Failures []models.Failure
}

// OK reports whether some candidate produced text.
func (r Resolution) OK() bool {
	return r.Text != ""
}

// LastFailure returns the failure of the final attempt made.
func (r Resolution) LastFailure() (models.Failure, bool) {
	if len(r.Failures) == 0 {
		return models.Failure{}, false
	}
	return r.Failures[len(r.Failures)-1], true
}

// Router drives a completer across an ordered list of candidate models.
// It holds no per-request state and is safe for concurrent use.
type Router struct {
	completer  provider.Completer
	candidates []string
	timeout    time.Duration
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// Option configures a Router.
type Option func(*Router)

// WithMetrics records attempts on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Router) { r.metrics = m }
}

// WithLogger sets the logger used for fallback and exhaustion events.
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) {
		if l != nil {
			r.logger = l
		}
	}
}

// New constructs a router trying candidates in order, bounding each attempt
// by timeout. Blank and repeated model ids are dropped.
func New(completer provider.Completer, candidates []string, timeout time.Duration, opts ...Option) (*Router, error) {
	if completer == nil {
		return nil, errors.New("completer must not be nil")
	}

	seen := make(map[string]struct{}, len(candidates))
	ordered := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if c == "" {
			continue
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		ordered = append(ordered, c)
	}
	if len(ordered) == 0 {
		return nil, errors.New("at least one candidate model is required")
	}

	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	r := &Router{
		completer:  completer,
		candidates: ordered,
		timeout:    timeout,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Candidates returns the ordered model ids the router tries.
func (r *Router) Candidates() []string {
	out := make([]string, len(r.candidates))
	copy(out, r.candidates)
	return out
}

// Resolve returns the first successful completion across the candidates.
// One attempt is made per model; the sequence stops early on success or when
// ctx is done.
func (r *Router) Resolve(ctx context.Context, messages []models.Message, opts models.CompletionOptions) Resolution {
	var res Resolution

	for i, model := range r.candidates {
		if ctx.Err() != nil {
			break
		}
		if i > 0 {
			r.metrics.IncFallback()
			r.logger.Info("trying fallback model", "model", model, "attempt", i+1)
		}

		req := models.NewCompletionRequest(model, messages, opts)

		start := time.Now()
		outcome := provider.CallWithTimeout(ctx, r.completer, req, r.timeout)
		elapsed := time.Since(start)

		if text, ok := outcome.Text(); ok {
			r.metrics.ObserveAttempt(model, metrics.OutcomeSuccess, elapsed)
			res.Text = text
			res.Model = model
			return res
		}

		failure, _ := outcome.Failure()
		failure.Model = model
		res.Failures = append(res.Failures, failure)
		r.metrics.ObserveAttempt(model, string(failure.Kind), elapsed)
	}

	r.logger.Warn("all candidate models failed", "candidates", r.candidates, "attempts", len(res.Failures))
	return res
}
