package agent

import (
	"strings"

	"concierge/internal/history"
)

// defaultHintKeywords trigger the tool-use reinforcement. The list is a
// policy knob, not a contract; it can be overridden per engine.
var defaultHintKeywords = []string{
	"who is",
	"what is",
	"where",
	"when",
	"how much",
	"how many",
	"search",
	"find",
	"look up",
	"show me",
	"balance",
	"voting power",
	"resource credits",
	"mana",
	"reward",
	"campaign",
	"import",
	"profile",
	"posts",
	"@",
}

// ForcePolicy decides when a turn gets an explicit reminder to use tools.
// The reminder is advisory: it biases the model, it cannot force a call.
type ForcePolicy struct {
	Keywords []string
}

func NewForcePolicy(keywords []string) *ForcePolicy {
	if len(keywords) == 0 {
		keywords = defaultHintKeywords
	}
	return &ForcePolicy{Keywords: keywords}
}

// NeedsToolHint returns true when the utterance carries a lookup-ish
// keyword, or when the previous assistant turn answered without invoking
// any capability.
func (p *ForcePolicy) NeedsToolHint(utterance string, turns []history.Turn) bool {
	lowered := strings.ToLower(utterance)
	for _, keyword := range p.Keywords {
		if strings.Contains(lowered, keyword) {
			return true
		}
	}

	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role != history.RoleAssistant {
			continue
		}
		// Tool turns directly precede the assistant turn they grounded.
		return i == 0 || turns[i-1].Role != history.RoleTool
	}
	return false
}
