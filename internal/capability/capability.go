// Package capability assembles the per-request set of tools the agent
// loop may invoke. The set depends on the tenant, the authenticated user,
// attached images and page context, so it is rebuilt for every turn.
package capability

import (
	"context"
	"encoding/json"
	"strings"

	"concierge/internal/images"
)

// Descriptor is one invocable capability: its schema for the model plus
// the closure that executes it. The closure captures the request scope
// (tenant, user, attachments), so descriptors must not outlive the turn.
type Descriptor struct {
	Name        string
	Description string
	Parameters  map[string]any
	Invoke      func(ctx context.Context, args json.RawMessage) (string, error)
}

// params builds a JSON-schema object for a capability's arguments.
func params(properties map[string]any, required []string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// StripAngleBrackets removes angle brackets from text injected into
// prompts (tenant names, page content), shrinking the prompt-injection
// surface of markup-bearing input.
func StripAngleBrackets(s string) string {
	return strings.NewReplacer("<", "", ">", "").Replace(s)
}

// MaxAttachedImages bounds how many attached images a turn accepts.
const MaxAttachedImages = 2

// AllowedImageSizes lists the sizes the image capability accepts.
func AllowedImageSizes() []string {
	return images.AllowedSizes
}
