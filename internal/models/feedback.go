package models

import (
	"strings"
	"time"
)

// Verdict is the user's judgement of an answer.
type Verdict string

const (
	// VerdictHelpful marks an answer that solved the problem.
	VerdictHelpful Verdict = "helpful"
	// VerdictUnhelpful marks an answer that did not help.
	VerdictUnhelpful Verdict = "unhelpful"
)

// ParseVerdict converts a string into a Verdict.
func ParseVerdict(s string) (Verdict, error) {
	switch Verdict(strings.ToLower(strings.TrimSpace(s))) {
	case VerdictHelpful:
		return VerdictHelpful, nil
	case VerdictUnhelpful:
		return VerdictUnhelpful, nil
	default:
		return "", ErrInvalidVerdict
	}
}

// Label is the wording used in the human-readable statistics file.
func (v Verdict) Label() string {
	switch v {
	case VerdictHelpful:
		return "👍 Помогло"
	case VerdictUnhelpful:
		return "👎 Не помогло"
	default:
		return string(v)
	}
}

// Feedback records a verdict about one question/answer exchange.
type Feedback struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Question       string    `json:"question"`
	Answer         string    `json:"answer"`
	Verdict        Verdict   `json:"verdict"`
	Time           time.Time `json:"time"`
}
