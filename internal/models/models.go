package models

import "strings"

// Role identifies the author of a conversational message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	default:
		return false
	}
}

// Message represents a single conversational message.
type Message struct {
	Role    Role
	Content string
}

// CompletionOptions carries the sampling parameters shared by every
// candidate model attempted for one pipeline invocation.
type CompletionOptions struct {
	MaxOutputTokens  int
	Temperature      float64
	StructuredOutput bool
}

// CompletionRequest is a single upstream call attempt. Construct it with
// NewCompletionRequest and treat it as read-only afterwards.
type CompletionRequest struct {
	Model            string
	Messages         []Message
	MaxOutputTokens  int
	Temperature      float64
	StructuredOutput bool
}

// NewCompletionRequest builds a request for model, copying messages so the
// caller's slice can never be observed through the request.
func NewCompletionRequest(model string, messages []Message, opts CompletionOptions) CompletionRequest {
	msgs := make([]Message, len(messages))
	copy(msgs, messages)
	return CompletionRequest{
		Model:            model,
		Messages:         msgs,
		MaxOutputTokens:  opts.MaxOutputTokens,
		Temperature:      opts.Temperature,
		StructuredOutput: opts.StructuredOutput,
	}
}

// FailureKind classifies why an upstream attempt produced no usable text.
type FailureKind string

const (
	FailureTimeout   FailureKind = "timeout"
	FailureCanceled  FailureKind = "canceled"
	FailureTransport FailureKind = "transport"
	FailureStatus    FailureKind = "status"
	FailureEmpty     FailureKind = "empty"
)

// Failure describes an unsuccessful upstream attempt.
type Failure struct {
	Model      string
	Kind       FailureKind
	StatusCode int
	Detail     string
}

// Outcome is the result of one upstream attempt: either non-empty text or a
// Failure, never both. The zero value is a transport failure.
type Outcome struct {
	text    string
	failure Failure
	ok      bool
}

// Success returns a successful outcome. Text that is empty after trimming
// is reclassified as an empty-content failure.
func Success(text string) Outcome {
	if strings.TrimSpace(text) == "" {
		return Failed(FailureEmpty, 500, "no_choices")
	}
	return Outcome{text: text, ok: true}
}

// Failed returns a failed outcome.
func Failed(kind FailureKind, status int, detail string) Outcome {
	return Outcome{failure: Failure{Kind: kind, StatusCode: status, Detail: detail}}
}

// Text returns the completion text and true on success.
func (o Outcome) Text() (string, bool) {
	return o.text, o.ok
}

// Failure returns the failure and true when the attempt did not succeed.
func (o Outcome) Failure() (Failure, bool) {
	if o.ok {
		return Failure{}, false
	}
	if o.failure.Kind == "" {
		return Failure{Kind: FailureTransport, StatusCode: 500, Detail: "no outcome"}, true
	}
	return o.failure, true
}

// OK reports whether the outcome carries text.
func (o Outcome) OK() bool {
	return o.ok
}

// ScoreMetrics holds the six behavioural scores, each in [0,100].
type ScoreMetrics struct {
	Initiative     int `json:"initiative"`
	SelfDisclosure int `json:"self_disclosure"`
	Empathy        int `json:"empathy"`
	Clarity        int `json:"clarity"`
	PaceBalance    int `json:"pace_balance"`
	Hesitation     int `json:"hesitation"`
}

// ScoreResult is the graded evaluation of one transcript.
type ScoreResult struct {
	Metrics        ScoreMetrics
	Safety         bool
	Suggestion     string
	CompositeGrade int
}
