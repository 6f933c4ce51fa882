package openai

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokumeifriends/koinomae-api1/internal/config"
	"github.com/tokumeifriends/koinomae-api1/internal/models"
	"github.com/tokumeifriends/koinomae-api1/internal/provider"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	p, err := New(config.UpstreamConfig{
		APIKey:  "sk-test",
		BaseURL: srv.URL + "/v1/",
		Headers: config.Headers{"OpenAI-Organization": "org-1"},
	}, srv.Client(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return p
}

func testRequest(structured bool) models.CompletionRequest {
	return models.NewCompletionRequest("gpt-test", []models.Message{
		{Role: models.RoleSystem, Content: "persona"},
		{Role: models.RoleUser, Content: "hello"},
	}, models.CompletionOptions{MaxOutputTokens: 180, Temperature: 0.7, StructuredOutput: structured})
}

func writeChoices(w http.ResponseWriter, content string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"id": "chatcmpl-1",
		"choices": []any{
			map[string]any{"index": 0, "message": map[string]any{"role": "assistant", "content": content}},
		},
	})
}

func TestComplete_Success(t *testing.T) {
	t.Parallel()

	var got chatPayload
	var headers http.Header
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		headers = r.Header.Clone()
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeChoices(w, "  やっほー  ")
	})

	out := p.Complete(context.Background(), testRequest(false))
	text, ok := out.Text()
	require.True(t, ok)
	assert.Equal(t, "やっほー", text)

	assert.Equal(t, "Bearer sk-test", headers.Get("Authorization"))
	assert.Equal(t, "org-1", headers.Get("OpenAI-Organization"))
	assert.Equal(t, "gpt-test", got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	require.NotNil(t, got.MaxTokens)
	assert.Equal(t, 180, *got.MaxTokens)
	require.NotNil(t, got.Temperature)
	assert.InDelta(t, 0.7, *got.Temperature, 1e-9)
	assert.Nil(t, got.ResponseFormat)
}

func TestComplete_StructuredOutputRequestsJSONObject(t *testing.T) {
	t.Parallel()

	var raw map[string]any
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		writeChoices(w, `{"scores":{}}`)
	})

	out := p.Complete(context.Background(), testRequest(true))
	require.True(t, out.OK())
	assert.Equal(t, map[string]any{"type": "json_object"}, raw["response_format"])
}

func TestComplete_Failures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		handler    http.HandlerFunc
		kind       models.FailureKind
		status     int
		detailPart string
	}{
		{
			name: "structured api error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = io.WriteString(w, `{"error":{"message":"quota exceeded","type":"insufficient_quota"}}`)
			},
			kind:       models.FailureStatus,
			status:     http.StatusTooManyRequests,
			detailPart: "quota exceeded",
		},
		{
			name: "plain error body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = io.WriteString(w, "overloaded\n")
			},
			kind:       models.FailureStatus,
			status:     http.StatusServiceUnavailable,
			detailPart: "overloaded",
		},
		{
			name: "no choices",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, `{"id":"x","choices":[]}`)
			},
			kind:       models.FailureEmpty,
			status:     500,
			detailPart: "no_choices",
		},
		{
			name: "whitespace content",
			handler: func(w http.ResponseWriter, r *http.Request) {
				writeChoices(w, " \n\t ")
			},
			kind:       models.FailureEmpty,
			status:     500,
			detailPart: "no_choices",
		},
		{
			name: "malformed body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, `{"choices":[`)
			},
			kind:       models.FailureTransport,
			status:     500,
			detailPart: "decode provider response",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := newTestProvider(t, tt.handler)
			out := p.Complete(context.Background(), testRequest(false))
			f, failed := out.Failure()
			require.True(t, failed)
			assert.Equal(t, tt.kind, f.Kind)
			assert.Equal(t, tt.status, f.StatusCode)
			assert.Contains(t, f.Detail, tt.detailPart)
		})
	}
}

func TestComplete_TransportError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	p, err := New(config.UpstreamConfig{APIKey: "k", BaseURL: url}, http.DefaultClient, nil)
	require.NoError(t, err)

	f, failed := p.Complete(context.Background(), testRequest(false)).Failure()
	require.True(t, failed)
	assert.Equal(t, models.FailureTransport, f.Kind)
	assert.Equal(t, 500, f.StatusCode)
	assert.True(t, strings.HasPrefix(f.Detail, "openai chat request failed"))
}

func TestComplete_TimeoutAbandonsCall(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	aborted := make(chan struct{}, 1)
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		// Draining the body lets the server notice the client hanging up.
		_, _ = io.ReadAll(r.Body)
		select {
		case <-r.Context().Done():
			aborted <- struct{}{}
		case <-release:
		}
	})
	t.Cleanup(func() { close(release) })

	timeout := 100 * time.Millisecond
	start := time.Now()
	out := provider.CallWithTimeout(context.Background(), p, testRequest(false), timeout)
	elapsed := time.Since(start)

	f, failed := out.Failure()
	require.True(t, failed)
	assert.Equal(t, "timeout", f.Detail)
	assert.Equal(t, models.FailureTimeout, f.Kind)
	assert.Less(t, elapsed, timeout+time.Second)

	select {
	case <-aborted:
	case <-time.After(2 * time.Second):
		t.Fatal("upstream request was not cancelled")
	}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	_, err := New(config.UpstreamConfig{BaseURL: "http://x"}, nil, nil)
	assert.Error(t, err)

	_, err = New(config.UpstreamConfig{BaseURL: "/"}, http.DefaultClient, nil)
	assert.Error(t, err)
}
