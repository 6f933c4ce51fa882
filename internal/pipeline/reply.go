package pipeline

import (
	"context"
	"log/slog"
	"strings"

	"github.com/tokumeifriends/koinomae-api1/internal/config"
	"github.com/tokumeifriends/koinomae-api1/internal/metrics"
	"github.com/tokumeifriends/koinomae-api1/internal/models"
	"github.com/tokumeifriends/koinomae-api1/internal/router"
)

// Resolver abstracts the fallback router so pipelines can be tested alone.
type Resolver interface {
	Resolve(ctx context.Context, messages []models.Message, opts models.CompletionOptions) router.Resolution
}

// Reply is the outcome of a reply generation. Text is never empty; when
// Fallback is set it holds the canned apology instead of model output.
type Reply struct {
	Text     string
	Model    string
	Fallback bool
	Failures []models.Failure
}

// ReplyPipeline produces persona-constrained conversational replies.
type ReplyPipeline struct {
	resolver Resolver
	opts     models.CompletionOptions
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewReplyPipeline wires a reply pipeline with the configured sampling.
func NewReplyPipeline(resolver Resolver, cfg config.GenerationConfig, m *metrics.Metrics, logger *slog.Logger) *ReplyPipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReplyPipeline{
		resolver: resolver,
		opts: models.CompletionOptions{
			MaxOutputTokens: cfg.MaxTokens,
			Temperature:     cfg.Temperature,
		},
		metrics: m,
		logger:  logger,
	}
}

// Generate answers history in persona. The only error it returns wraps
// ErrInvalidInput; upstream exhaustion yields a fallback Reply instead.
func (p *ReplyPipeline) Generate(ctx context.Context, history []models.Message) (Reply, error) {
	if err := validateHistory(history); err != nil {
		return Reply{}, err
	}

	messages := make([]models.Message, 0, len(history)+1)
	messages = append(messages, models.Message{Role: models.RoleSystem, Content: personaPrompt})
	messages = append(messages, history...)

	res := p.resolver.Resolve(ctx, messages, p.opts)
	if !res.OK() {
		p.metrics.IncExhausted("chat")
		p.logger.Error("reply generation exhausted upstream models", "attempts", len(res.Failures))
		return Reply{Text: fallbackReply, Fallback: true, Failures: res.Failures}, nil
	}

	return Reply{Text: res.Text, Model: res.Model}, nil
}

func validateHistory(history []models.Message) error {
	if len(history) == 0 {
		return invalidInput("messages must be a non-empty list")
	}
	for i, msg := range history {
		if !msg.Role.Valid() {
			return invalidInput("message[%d]: invalid role %q", i, msg.Role)
		}
		if msg.Role == models.RoleSystem {
			return invalidInput("message[%d]: system messages are not accepted", i)
		}
		if strings.TrimSpace(msg.Content) == "" {
			return invalidInput("message[%d]: content must not be empty", i)
		}
	}
	return nil
}
