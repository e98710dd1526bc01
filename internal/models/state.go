// Package models defines conversation state structures for SupportPipe dialogues.
package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// StateKind tags the variant held by a ConversationState.
type StateKind string

const (
	// StateIdle means no exchange is pending for the conversation.
	StateIdle StateKind = "idle"
	// StateContinuation holds the last answered question so a follow-up can refine it.
	StateContinuation StateKind = "continuation"
	// StateAwaitingClarification waits for the user to pick an option for a table prompt.
	StateAwaitingClarification StateKind = "awaiting_clarification"
	// StateAwaitingFollowUp waits for the answer to a chained follow-up prompt.
	StateAwaitingFollowUp StateKind = "awaiting_follow_up"
	// StateAwaitingDynamicClarification waits for a free-text elaboration of a generated question.
	StateAwaitingDynamicClarification StateKind = "awaiting_dynamic_clarification"
)

// IsValid reports whether k is a known state kind.
func (k StateKind) IsValid() bool {
	switch k {
	case StateIdle, StateContinuation, StateAwaitingClarification, StateAwaitingFollowUp, StateAwaitingDynamicClarification:
		return true
	default:
		return false
	}
}

// IsPending reports whether the conversation is in the middle of a clarification dialogue.
func (k StateKind) IsPending() bool {
	switch k {
	case StateAwaitingClarification, StateAwaitingFollowUp, StateAwaitingDynamicClarification:
		return true
	default:
		return false
	}
}

// ConversationState is the single active state of one conversation.
//
// Only the fields relevant to Kind are populated:
//   - continuation: Question (last answered question), LastAnswer
//   - awaiting_clarification / awaiting_follow_up: Question (original or combined), Stage, Options
//   - awaiting_dynamic_clarification: Question (original)
type ConversationState struct {
	Kind       StateKind `json:"kind"`
	Question   string    `json:"question,omitempty"`
	Stage      string    `json:"stage,omitempty"` // table key whose prompt is outstanding
	Options    []string  `json:"options,omitempty"`
	LastAnswer string    `json:"last_answer,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Idle returns the default state of a conversation.
func Idle() ConversationState {
	return ConversationState{Kind: StateIdle}
}

// Continuation returns the state stored after a question was answered.
func Continuation(question, answer string) ConversationState {
	return ConversationState{Kind: StateContinuation, Question: question, LastAnswer: answer}
}

// AwaitingClarification returns the state stored after a table prompt was sent.
func AwaitingClarification(original, stage string, options []string) ConversationState {
	return ConversationState{Kind: StateAwaitingClarification, Question: original, Stage: stage, Options: options}
}

// AwaitingFollowUp returns the state stored after a chained follow-up prompt was sent.
func AwaitingFollowUp(combined, stage string, options []string) ConversationState {
	return ConversationState{Kind: StateAwaitingFollowUp, Question: combined, Stage: stage, Options: options}
}

// AwaitingDynamicClarification returns the state stored after a generated clarifying question was sent.
func AwaitingDynamicClarification(original string) ConversationState {
	return ConversationState{Kind: StateAwaitingDynamicClarification, Question: original}
}

// LastQuestion returns the question a new message may continue, or "" when there is none.
func (s ConversationState) LastQuestion() string {
	if s.Kind == StateContinuation {
		return s.Question
	}
	return ""
}

// Validate checks that the state carries the payload its kind requires.
func (s ConversationState) Validate() error {
	if !s.Kind.IsValid() {
		return fmt.Errorf("unknown conversation state kind %q", s.Kind)
	}
	if s.Kind != StateIdle && s.Question == "" {
		return fmt.Errorf("conversation state %s requires a question", s.Kind)
	}
	if (s.Kind == StateAwaitingClarification || s.Kind == StateAwaitingFollowUp) && s.Stage == "" {
		return fmt.Errorf("conversation state %s requires a stage", s.Kind)
	}
	return nil
}

// ToJSON serializes the state for persistent stores.
func (s ConversationState) ToJSON() (string, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// FromJSON deserializes the state from persistent stores.
func (s *ConversationState) FromJSON(data string) error {
	return json.Unmarshal([]byte(data), s)
}
