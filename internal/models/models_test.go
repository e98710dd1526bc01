package models

import (
	"encoding/json"
	"testing"
)

func TestConversationState_LastQuestion(t *testing.T) {
	if got := Idle().LastQuestion(); got != "" {
		t.Errorf("expected empty last question for idle state, got %q", got)
	}
	if got := Continuation("как установить astra", "ответ").LastQuestion(); got != "как установить astra" {
		t.Errorf("unexpected last question %q", got)
	}
	pending := AwaitingClarification("нужна установка", "установка", []string{"Windows"})
	if got := pending.LastQuestion(); got != "" {
		t.Errorf("pending clarification must not expose a last question, got %q", got)
	}
}

func TestConversationState_Validate(t *testing.T) {
	tests := []struct {
		name    string
		state   ConversationState
		wantErr bool
	}{
		{"idle", Idle(), false},
		{"continuation", Continuation("q", "a"), false},
		{"clarification", AwaitingClarification("q", "установка", []string{"Linux"}), false},
		{"follow up", AwaitingFollowUp("q → Сервер", "Сервер", []string{"Linux"}), false},
		{"dynamic", AwaitingDynamicClarification("q"), false},
		{"unknown kind", ConversationState{Kind: "resolved", Question: "q"}, true},
		{"missing question", ConversationState{Kind: StateContinuation}, true},
		{"missing stage", ConversationState{Kind: StateAwaitingClarification, Question: "q"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.state.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConversationState_JSONPreservesPayload(t *testing.T) {
	original := AwaitingFollowUp("lsa → Рабочая станция", "Рабочая станция", []string{"Windows", "Linux"})
	data, err := original.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON failed: %v", err)
	}

	var restored ConversationState
	if err := restored.FromJSON(data); err != nil {
		t.Fatalf("FromJSON failed: %v", err)
	}
	if restored.Kind != StateAwaitingFollowUp || restored.Stage != "Рабочая станция" || len(restored.Options) != 2 {
		t.Errorf("state not restored correctly: %+v", restored)
	}
}

func TestStateKind_IsPending(t *testing.T) {
	if StateIdle.IsPending() || StateContinuation.IsPending() {
		t.Error("idle and continuation are not pending states")
	}
	for _, k := range []StateKind{StateAwaitingClarification, StateAwaitingFollowUp, StateAwaitingDynamicClarification} {
		if !k.IsPending() {
			t.Errorf("%s should be pending", k)
		}
	}
}

func TestParseVerdict(t *testing.T) {
	if v, err := ParseVerdict(" Helpful "); err != nil || v != VerdictHelpful {
		t.Errorf("expected helpful, got %q (%v)", v, err)
	}
	if _, err := ParseVerdict("maybe"); err != ErrInvalidVerdict {
		t.Errorf("expected ErrInvalidVerdict, got %v", err)
	}
}

func TestErrorEnvelope(t *testing.T) {
	data, err := json.Marshal(Error("boom"))
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if decoded["status"] != "error" || decoded["message"] != "boom" {
		t.Errorf("unexpected envelope: %s", data)
	}
	if _, ok := decoded["result"]; ok {
		t.Error("result should be omitted when empty")
	}
}
