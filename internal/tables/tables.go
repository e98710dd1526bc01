// Package tables holds the static keyword and clarification tables that drive
// question classification and the clarification dialogue.
//
// Tables are loaded once at startup and are read-only afterwards; every
// conversation shares the same *Tables value.
package tables

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrMalformedTable is returned when a table entry is missing its prompt or options.
var ErrMalformedTable = errors.New("malformed clarification table")

// Step is a prompt together with the options offered to the user.
type Step struct {
	Prompt  string   `yaml:"prompt" json:"prompt"`
	Options []string `yaml:"options" json:"options"`
}

// Clarification is one Clarification Table entry.
type Clarification struct {
	Trigger string `yaml:"trigger" json:"trigger"`
	Step    `yaml:",inline"`
}

// Tables is the full static configuration of the dialogue engine.
type Tables struct {
	Keywords       []string        `yaml:"keywords"`
	ShortReplies   []string        `yaml:"short_replies"`
	Clarifications []Clarification `yaml:"clarifications"` // ordered, first match wins
	FollowUps      map[string]Step `yaml:"follow_ups"`
	OSHints        []string        `yaml:"os_hints"`
	DeviceHints    []string        `yaml:"device_hints"`
}

// Load reads and validates tables from a YAML file.
func Load(path string) (*Tables, error) {
	slog.Debug("Tables Load invoked", "path", path)
	f, err := os.Open(path)
	if err != nil {
		slog.Error("Tables Load open failed", "error", err, "path", path)
		return nil, fmt.Errorf("failed to open tables file %s: %w", path, err)
	}
	defer f.Close()

	t, err := Parse(f)
	if err != nil {
		slog.Error("Tables Load parse failed", "error", err, "path", path)
		return nil, err
	}
	slog.Info("Tables loaded", "path", path, "keywords", len(t.Keywords), "clarifications", len(t.Clarifications), "follow_ups", len(t.FollowUps))
	return t, nil
}

// Parse decodes and validates tables from YAML.
func Parse(r io.Reader) (*Tables, error) {
	var t Tables
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&t); err != nil {
		return nil, fmt.Errorf("failed to decode tables: %w", err)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

// Validate checks every clarification and follow-up entry. Any problem wraps ErrMalformedTable.
func (t *Tables) Validate() error {
	if len(t.Keywords) == 0 {
		return fmt.Errorf("%w: keyword table is empty", ErrMalformedTable)
	}
	seen := make(map[string]bool, len(t.Clarifications))
	for i, c := range t.Clarifications {
		trigger := strings.ToLower(strings.TrimSpace(c.Trigger))
		if trigger == "" {
			return fmt.Errorf("%w: clarification %d has an empty trigger", ErrMalformedTable, i)
		}
		if seen[trigger] {
			return fmt.Errorf("%w: duplicate trigger %q", ErrMalformedTable, c.Trigger)
		}
		seen[trigger] = true
		if err := c.Step.validate(); err != nil {
			return fmt.Errorf("%w: trigger %q: %v", ErrMalformedTable, c.Trigger, err)
		}
	}
	for key, step := range t.FollowUps {
		if strings.TrimSpace(key) == "" {
			return fmt.Errorf("%w: follow-up with an empty key", ErrMalformedTable)
		}
		if err := step.validate(); err != nil {
			return fmt.Errorf("%w: follow-up %q: %v", ErrMalformedTable, key, err)
		}
	}
	return nil
}

func (s Step) validate() error {
	if strings.TrimSpace(s.Prompt) == "" {
		return errors.New("missing prompt")
	}
	if len(s.Options) == 0 {
		return errors.New("missing options")
	}
	for _, o := range s.Options {
		if strings.TrimSpace(o) == "" {
			return errors.New("empty option")
		}
	}
	return nil
}

// MatchClarification returns the first clarification whose trigger occurs in the
// normalized question. Triggers are compared lowercased.
func (t *Tables) MatchClarification(normalized string) (Clarification, bool) {
	for _, c := range t.Clarifications {
		if strings.Contains(normalized, strings.ToLower(strings.TrimSpace(c.Trigger))) {
			return c, true
		}
	}
	return Clarification{}, false
}

// ClarificationFor returns the clarification registered for a trigger, ignoring case.
func (t *Tables) ClarificationFor(trigger string) (Clarification, bool) {
	trigger = strings.TrimSpace(trigger)
	for _, c := range t.Clarifications {
		if strings.EqualFold(strings.TrimSpace(c.Trigger), trigger) {
			return c, true
		}
	}
	return Clarification{}, false
}

// FollowUp returns the follow-up step chained to a chosen option, if any.
// Lookup ignores case and surrounding whitespace.
func (t *Tables) FollowUp(option string) (Step, bool) {
	option = strings.TrimSpace(option)
	if step, ok := t.FollowUps[option]; ok {
		return step, true
	}
	for key, step := range t.FollowUps {
		if strings.EqualFold(strings.TrimSpace(key), option) {
			return step, true
		}
	}
	return Step{}, false
}

// IsShortReply reports whether text is one of the configured "that didn't help" replies.
func (t *Tables) IsShortReply(text string) bool {
	text = strings.TrimSpace(text)
	for _, r := range t.ShortReplies {
		if strings.EqualFold(r, text) {
			return true
		}
	}
	return false
}

// ExtractHints returns the first OS hint and device hint mentioned in the question.
func (t *Tables) ExtractHints(question string) (osHint, deviceHint string) {
	lower := strings.ToLower(question)
	for _, h := range t.OSHints {
		if strings.Contains(lower, strings.ToLower(h)) {
			osHint = h
			break
		}
	}
	for _, h := range t.DeviceHints {
		if strings.Contains(lower, strings.ToLower(h)) {
			deviceHint = h
			break
		}
	}
	return osHint, deviceHint
}
