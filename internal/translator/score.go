package translator

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tokumeifriends/koinomae-api1/internal/models"
)

var errTranscriptType = errors.New("transcript must be a string")

// ScoreRequest models the POST /score payload.
type ScoreRequest struct {
	Transcript string
}

// UnmarshalJSON rejects transcripts that are missing or not JSON strings.
func (r *ScoreRequest) UnmarshalJSON(data []byte) error {
	var raw struct {
		Transcript json.RawMessage `json:"transcript"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode score request: %w", err)
	}

	if len(raw.Transcript) == 0 || string(raw.Transcript) == "null" {
		return errTranscriptType
	}

	var transcript string
	if err := json.Unmarshal(raw.Transcript, &transcript); err != nil {
		return errTranscriptType
	}
	r.Transcript = transcript
	return nil
}

// ScoreFlags mirrors the flags block of the scoring output.
type ScoreFlags struct {
	Safety bool `json:"safety"`
}

// ScoreResponse is the 200 body of POST /score.
type ScoreResponse struct {
	Scores     models.ScoreMetrics `json:"scores"`
	Flags      ScoreFlags          `json:"flags"`
	Suggestion string              `json:"suggestion"`
	ChatRaw20  int                 `json:"chat_raw20"`
}

// FromScoreResult shapes a graded result for the wire.
func FromScoreResult(r models.ScoreResult) ScoreResponse {
	return ScoreResponse{
		Scores:     r.Metrics,
		Flags:      ScoreFlags{Safety: r.Safety},
		Suggestion: r.Suggestion,
		ChatRaw20:  r.CompositeGrade,
	}
}
