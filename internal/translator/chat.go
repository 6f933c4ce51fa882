package translator

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tokumeifriends/koinomae-api1/internal/models"
)

var (
	errMissingMessages = errors.New("messages must be a JSON array")
	errInvalidContent  = errors.New("invalid message content")
	errInvalidRole     = errors.New("role must be a string")
)

// ChatRequest models the POST /chat payload.
type ChatRequest struct {
	Messages []ChatMessage
}

// UnmarshalJSON requires messages to be present and to be an array.
func (r *ChatRequest) UnmarshalJSON(data []byte) error {
	var raw struct {
		Messages json.RawMessage `json:"messages"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode chat request: %w", err)
	}

	trimmed := bytes.TrimSpace(raw.Messages)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return errMissingMessages
	}

	var msgs []ChatMessage
	if err := json.Unmarshal(trimmed, &msgs); err != nil {
		return fmt.Errorf("decode messages: %w", err)
	}
	r.Messages = msgs
	return nil
}

// ToModels converts the wire messages into the internal representation.
func (r ChatRequest) ToModels() []models.Message {
	msgs := make([]models.Message, 0, len(r.Messages))
	for _, m := range r.Messages {
		msgs = append(msgs, models.Message{
			Role:    models.Role(m.Role),
			Content: m.Content,
		})
	}
	return msgs
}

// ChatMessage captures a single message within the chat request.
type ChatMessage struct {
	Role    string
	Content string
}

// UnmarshalJSON supports string and array-of-text content formats.
func (m *ChatMessage) UnmarshalJSON(data []byte) error {
	var raw struct {
		Role    json.RawMessage `json:"role"`
		Content json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode message: %w", err)
	}

	var role string
	if err := json.Unmarshal(raw.Role, &role); err != nil {
		return errInvalidRole
	}

	content, err := extractMessageContent(raw.Content)
	if err != nil {
		return err
	}

	m.Role = strings.TrimSpace(role)
	m.Content = content
	return nil
}

func extractMessageContent(raw json.RawMessage) (string, error) {
	if raw == nil {
		return "", fmt.Errorf("%w: missing content", errInvalidContent)
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text, nil
	}

	var segments []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &segments); err == nil {
		var builder strings.Builder
		for _, segment := range segments {
			if segment.Type != "text" {
				return "", fmt.Errorf("%w: segment type %q not supported", errInvalidContent, segment.Type)
			}
			builder.WriteString(segment.Text)
		}
		return builder.String(), nil
	}

	return "", fmt.Errorf("%w: unsupported content structure", errInvalidContent)
}

// ChatResponse is the 200 body of POST /chat.
type ChatResponse struct {
	Reply string `json:"reply"`
}

// ChatFailureResponse is the 502 body of POST /chat; Reply still carries a
// user-safe message.
type ChatFailureResponse struct {
	Error string `json:"error"`
	Reply string `json:"reply"`
}
