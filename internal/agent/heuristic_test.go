package agent

import (
	"testing"

	"concierge/internal/history"
)

func TestNeedsToolHintKeywords(t *testing.T) {
	policy := NewForcePolicy(nil)

	tests := []struct {
		utterance string
		want      bool
	}{
		{"who is @exampleuser", true},
		{"Who Is the site owner", true},
		{"what is my voting power", true},
		{"tell me a joke", false},
		{"thanks!", false},
		{"can you search for espresso campaigns", true},
	}
	for _, tt := range tests {
		if got := policy.NeedsToolHint(tt.utterance, nil); got != tt.want {
			t.Errorf("NeedsToolHint(%q) = %v, want %v", tt.utterance, got, tt.want)
		}
	}
}

func TestNeedsToolHintCustomKeywords(t *testing.T) {
	policy := NewForcePolicy([]string{"espresso"})

	if !policy.NeedsToolHint("anything about Espresso?", nil) {
		t.Error("custom keyword not honored")
	}
	if policy.NeedsToolHint("who is @exampleuser", nil) {
		t.Error("default keywords should be replaced, not merged")
	}
}

func TestNeedsToolHintUngroundedPreviousTurn(t *testing.T) {
	policy := NewForcePolicy([]string{"zzz-no-match"})

	// Previous assistant turn answered without any tool turn before it.
	ungrounded := []history.Turn{
		{Role: history.RoleHuman, Content: "hi"},
		{Role: history.RoleAssistant, Content: "hello"},
	}
	if !policy.NeedsToolHint("tell me more", ungrounded) {
		t.Error("ungrounded previous answer should trigger the hint")
	}

	// Previous assistant turn was grounded by a tool result.
	grounded := []history.Turn{
		{Role: history.RoleHuman, Content: "hi"},
		{Role: history.RoleTool, Content: "result", ToolCallID: "c1"},
		{Role: history.RoleAssistant, Content: "grounded answer"},
	}
	if policy.NeedsToolHint("tell me more", grounded) {
		t.Error("grounded previous answer should not trigger the hint")
	}
}

func TestNeedsToolHintAssistantFirstTurn(t *testing.T) {
	policy := NewForcePolicy([]string{"zzz-no-match"})

	// A log that opens with an assistant greeting has no tool turn before
	// it by construction.
	turns := []history.Turn{
		{Role: history.RoleAssistant, Content: "welcome"},
	}
	if !policy.NeedsToolHint("tell me more", turns) {
		t.Error("leading assistant turn counts as ungrounded")
	}
}

func TestNeedsToolHintEmptyHistory(t *testing.T) {
	policy := NewForcePolicy([]string{"zzz-no-match"})
	if policy.NeedsToolHint("tell me more", nil) {
		t.Error("no history and no keyword should not trigger the hint")
	}
}
