package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutcome(t *testing.T) {
	t.Parallel()

	t.Run("success carries text", func(t *testing.T) {
		t.Parallel()
		o := Success("こんにちは")
		text, ok := o.Text()
		require.True(t, ok)
		assert.Equal(t, "こんにちは", text)
		_, failed := o.Failure()
		assert.False(t, failed)
	})

	t.Run("blank success becomes empty failure", func(t *testing.T) {
		t.Parallel()
		for _, text := range []string{"", "   ", "\n\t"} {
			o := Success(text)
			assert.False(t, o.OK())
			f, failed := o.Failure()
			require.True(t, failed)
			assert.Equal(t, FailureEmpty, f.Kind)
			assert.Equal(t, 500, f.StatusCode)
			assert.Equal(t, "no_choices", f.Detail)
		}
	})

	t.Run("failed has no text", func(t *testing.T) {
		t.Parallel()
		o := Failed(FailureStatus, 429, "rate limited")
		text, ok := o.Text()
		assert.False(t, ok)
		assert.Empty(t, text)
		f, _ := o.Failure()
		assert.Equal(t, Failure{Kind: FailureStatus, StatusCode: 429, Detail: "rate limited"}, f)
	})

	t.Run("zero value is a transport failure", func(t *testing.T) {
		t.Parallel()
		var o Outcome
		f, failed := o.Failure()
		require.True(t, failed)
		assert.Equal(t, FailureTransport, f.Kind)
	})
}

func TestNewCompletionRequestCopiesMessages(t *testing.T) {
	t.Parallel()

	msgs := []Message{{Role: RoleUser, Content: "hi"}}
	req := NewCompletionRequest("gpt-4o-mini", msgs, CompletionOptions{MaxOutputTokens: 10, Temperature: 0.5, StructuredOutput: true})

	msgs[0].Content = "mutated"

	assert.Equal(t, "hi", req.Messages[0].Content)
	assert.Equal(t, "gpt-4o-mini", req.Model)
	assert.Equal(t, 10, req.MaxOutputTokens)
	assert.InDelta(t, 0.5, req.Temperature, 1e-9)
	assert.True(t, req.StructuredOutput)
}

func TestRoleValid(t *testing.T) {
	t.Parallel()

	assert.True(t, RoleUser.Valid())
	assert.True(t, RoleAssistant.Valid())
	assert.True(t, RoleSystem.Valid())
	assert.False(t, Role("tool").Valid())
	assert.False(t, Role("").Valid())
}
