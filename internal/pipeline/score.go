package pipeline

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/tokumeifriends/koinomae-api1/internal/config"
	"github.com/tokumeifriends/koinomae-api1/internal/metrics"
	"github.com/tokumeifriends/koinomae-api1/internal/models"
	"github.com/tokumeifriends/koinomae-api1/internal/textutil"
)

//go:embed score.schema.json
var scoreSchemaJSON string

const maxLoggedContent = 512

// ScorePipeline grades finished conversation transcripts.
type ScorePipeline struct {
	resolver Resolver
	opts     models.CompletionOptions
	schema   *jsonschema.Schema
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewScorePipeline wires a scoring pipeline requesting structured output.
func NewScorePipeline(resolver Resolver, cfg config.GenerationConfig, m *metrics.Metrics, logger *slog.Logger) (*ScorePipeline, error) {
	schema, err := jsonschema.CompileString("score.schema.json", scoreSchemaJSON)
	if err != nil {
		return nil, fmt.Errorf("compile score schema: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ScorePipeline{
		resolver: resolver,
		opts: models.CompletionOptions{
			MaxOutputTokens:  cfg.MaxTokens,
			Temperature:      cfg.Temperature,
			StructuredOutput: true,
		},
		schema:  schema,
		metrics: m,
		logger:  logger,
	}, nil
}

// Score evaluates transcript. Errors match ErrInvalidInput,
// ErrUpstreamExhausted (as *ExhaustedError) or ErrMalformedOutput (as
// *MalformedOutputError).
func (p *ScorePipeline) Score(ctx context.Context, transcript string) (models.ScoreResult, error) {
	if strings.TrimSpace(transcript) == "" {
		return models.ScoreResult{}, invalidInput("transcript must be a non-empty string")
	}

	messages := []models.Message{
		{Role: models.RoleSystem, Content: scorePrompt},
		{Role: models.RoleUser, Content: transcriptPrefix + transcript},
	}

	res := p.resolver.Resolve(ctx, messages, p.opts)
	if !res.OK() {
		p.metrics.IncExhausted("score")
		return models.ScoreResult{}, &ExhaustedError{Failures: res.Failures}
	}

	result, err := p.parse(res.Text)
	if err != nil {
		p.logger.Error("score output rejected", "model", res.Model, "err", err, "content", textutil.Truncate(res.Text, maxLoggedContent))
		return models.ScoreResult{}, err
	}

	p.metrics.ObserveGrade(result.CompositeGrade)
	return result, nil
}

func (p *ScorePipeline) parse(content string) (models.ScoreResult, error) {
	var doc any
	if err := json.Unmarshal([]byte(content), &doc); err != nil {
		return models.ScoreResult{}, &MalformedOutputError{Raw: content, Err: fmt.Errorf("decode score json: %w", err)}
	}
	if err := p.schema.Validate(doc); err != nil {
		return models.ScoreResult{}, &MalformedOutputError{Raw: content, Err: fmt.Errorf("score json shape: %w", err)}
	}

	// The schema guarantees an object at the top level.
	root := doc.(map[string]any)
	scores, _ := root["scores"].(map[string]any)
	flags, _ := root["flags"].(map[string]any)
	safety, _ := flags["safety"].(bool)
	suggestion, _ := root["suggestion"].(string)

	raw := rawMetrics{
		initiative:     metricValue(scores, "initiative"),
		selfDisclosure: metricValue(scores, "self_disclosure"),
		empathy:        metricValue(scores, "empathy"),
		clarity:        metricValue(scores, "clarity"),
		paceBalance:    metricValue(scores, "pace_balance"),
		hesitation:     metricValue(scores, "hesitation"),
	}

	result := models.ScoreResult{
		Metrics:        raw.display(),
		Safety:         safety,
		Suggestion:     suggestion,
		CompositeGrade: gradeOf(raw),
	}
	return result, nil
}

// metricValue reads a metric, treating absent or non-numeric values as 0.
func metricValue(scores map[string]any, key string) float64 {
	f, ok := scores[key].(float64)
	if !ok || math.IsNaN(f) {
		return 0
	}
	return f
}
