package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/tokumeifriends/koinomae-api1/internal/config"
	"github.com/tokumeifriends/koinomae-api1/internal/models"
	"github.com/tokumeifriends/koinomae-api1/internal/provider"
	"github.com/tokumeifriends/koinomae-api1/internal/textutil"
)

const (
	contentTypeJSON = "application/json"
	userAgent       = "koinomae-api/0.1"
	maxErrorBody    = 64 * 1024
	maxLoggedDetail = 512
)

var _ provider.Completer = (*Provider)(nil)

// Provider implements provider.Completer for OpenAI-compatible chat
// completion APIs.
type Provider struct {
	apiKey  string
	headers map[string]string
	client  *http.Client
	chatURL string
	logger  *slog.Logger
}

// New creates a new OpenAI provider.
func New(cfg config.UpstreamConfig, client *http.Client, logger *slog.Logger) (*Provider, error) {
	if client == nil {
		return nil, errors.New("http client must not be nil")
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		return nil, errors.New("base url must not be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Provider{
		apiKey:  cfg.APIKey,
		headers: cfg.Headers,
		client:  client,
		chatURL: baseURL + "/chat/completions",
		logger:  logger,
	}, nil
}

// Complete issues one chat completion call. It never returns an error:
// every failure is folded into the outcome and logged.
func (p *Provider) Complete(ctx context.Context, req models.CompletionRequest) models.Outcome {
	outcome := p.complete(ctx, req)
	if f, failed := outcome.Failure(); failed {
		p.logger.Warn("upstream completion failed",
			"model", req.Model,
			"kind", string(f.Kind),
			"status", f.StatusCode,
			"detail", textutil.Truncate(f.Detail, maxLoggedDetail),
		)
		return outcome
	}
	text, _ := outcome.Text()
	p.logger.Debug("upstream completion succeeded", "model", req.Model, "content_length", len(text))
	return outcome
}

func (p *Provider) complete(ctx context.Context, req models.CompletionRequest) models.Outcome {
	httpReq, err := p.newRequest(ctx, http.MethodPost, p.chatURL, buildChatPayload(req))
	if err != nil {
		return models.Failed(models.FailureTransport, 500, err.Error())
	}

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return requestFailure(ctx, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return models.Failed(models.FailureStatus, httpResp.StatusCode, readErrorBody(httpResp))
	}

	var providerResp chatResponse
	if err := decodeJSON(httpResp.Body, &providerResp); err != nil {
		if ctx.Err() != nil {
			return requestFailure(ctx, err)
		}
		return models.Failed(models.FailureTransport, 500, err.Error())
	}

	return models.Success(strings.TrimSpace(providerResp.firstContent()))
}

func (p *Provider) newRequest(ctx context.Context, method, url string, payload any) (*http.Request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("construct request: %w", err)
	}

	req.Header.Set("Content-Type", contentTypeJSON)
	req.Header.Set("Accept", contentTypeJSON)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	for k, v := range p.headers {
		req.Header.Set(k, v)
	}

	return req, nil
}

func requestFailure(ctx context.Context, err error) models.Outcome {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
		return models.Failed(models.FailureTimeout, 500, "timeout")
	case errors.Is(ctx.Err(), context.Canceled):
		return models.Failed(models.FailureCanceled, 500, "canceled")
	default:
		return models.Failed(models.FailureTransport, 500, fmt.Sprintf("openai chat request failed: %v", err))
	}
}

type chatPayload struct {
	Model          string          `json:"model"`
	Messages       []openAIMessage `json:"messages"`
	MaxTokens      *int            `json:"max_tokens,omitempty"`
	Temperature    *float64        `json:"temperature,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

func buildChatPayload(req models.CompletionRequest) chatPayload {
	messages := make([]openAIMessage, 0, len(req.Messages))
	for _, msg := range req.Messages {
		messages = append(messages, openAIMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}

	payload := chatPayload{
		Model:    req.Model,
		Messages: messages,
	}

	if req.MaxOutputTokens > 0 {
		v := req.MaxOutputTokens
		payload.MaxTokens = &v
	}
	temperature := req.Temperature
	payload.Temperature = &temperature
	if req.StructuredOutput {
		payload.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	return payload
}

type chatResponse struct {
	ID      string       `json:"id"`
	Choices []chatChoice `json:"choices"`
}

type chatChoice struct {
	Index        int           `json:"index"`
	Message      openAIMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

func (r chatResponse) firstContent() string {
	if len(r.Choices) == 0 {
		return ""
	}
	return r.Choices[0].Message.Content
}

type apiErrorResponse struct {
	Error apiErrorObject `json:"error"`
}

type apiErrorObject struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    any    `json:"code"`
}

// readErrorBody returns the upstream error text, preferring the structured
// error message when the body carries one.
func readErrorBody(resp *http.Response) string {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return fmt.Sprintf("upstream error status %d and failed to read body: %v", resp.StatusCode, err)
	}

	var apiErr apiErrorResponse
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
		if apiErr.Error.Type != "" {
			return fmt.Sprintf("openai error (%s): %s", apiErr.Error.Type, apiErr.Error.Message)
		}
		return "openai error: " + apiErr.Error.Message
	}

	return strings.TrimSpace(string(body))
}

func decodeJSON(reader io.Reader, target any) error {
	decoder := json.NewDecoder(reader)
	if err := decoder.Decode(target); err != nil {
		return fmt.Errorf("decode provider response: %w", err)
	}
	return nil
}
