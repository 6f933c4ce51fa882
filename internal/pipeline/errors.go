package pipeline

import (
	"errors"
	"fmt"

	"github.com/tokumeifriends/koinomae-api1/internal/models"
)

var (
	// ErrInvalidInput indicates the caller payload failed shape validation.
	// No upstream call is made.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUpstreamExhausted indicates every candidate model failed.
	ErrUpstreamExhausted = errors.New("all upstream models failed")

	// ErrMalformedOutput indicates structured upstream output could not be
	// parsed or did not match the expected shape.
	ErrMalformedOutput = errors.New("malformed upstream output")
)

func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// ExhaustedError carries the failure of every attempted candidate.
type ExhaustedError struct {
	Failures []models.Failure
}

func (e *ExhaustedError) Error() string {
	if last, ok := e.Last(); ok {
		return fmt.Sprintf("%s: last model %s: %s (%d)", ErrUpstreamExhausted, last.Model, last.Detail, last.StatusCode)
	}
	return ErrUpstreamExhausted.Error()
}

// Is matches ErrUpstreamExhausted.
func (e *ExhaustedError) Is(target error) bool {
	return target == ErrUpstreamExhausted
}

// Last returns the failure of the final attempt.
func (e *ExhaustedError) Last() (models.Failure, bool) {
	if len(e.Failures) == 0 {
		return models.Failure{}, false
	}
	return e.Failures[len(e.Failures)-1], true
}

// MalformedOutputError carries the raw upstream content that failed to parse.
type MalformedOutputError struct {
	Raw string
	Err error
}

func (e *MalformedOutputError) Error() string {
	return fmt.Sprintf("%s: %v", ErrMalformedOutput, e.Err)
}

// Unwrap returns the underlying parse or schema error.
func (e *MalformedOutputError) Unwrap() error {
	return e.Err
}

// Is matches ErrMalformedOutput.
func (e *MalformedOutputError) Is(target error) bool {
	return target == ErrMalformedOutput
}
