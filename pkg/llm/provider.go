package llm

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Provider is a chat-completion backend with tool-calling support. A single
// call either returns assistant text, a set of requested tool calls, or both.
type Provider interface {
	Complete(ctx context.Context, messages []Message, tools []Tool) (Completion, error)
}

// Message roles
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	Name       string     `json:"name,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters"`
}

type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// Completion is the full (non-streamed) model output for one request.
type Completion struct {
	Content   string
	ToolCalls []ToolCall
}

const maxRetries = 3

// doWithRetry executes an HTTP request, retrying transient failures
// (connection errors, 429, 5xx) with linear backoff. The request is rebuilt
// for every attempt so its body reader is fresh.
func doWithRetry(ctx context.Context, client *http.Client, build func() (*http.Request, error)) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
			}
		}

		req, err := build()
		if err != nil {
			return nil, err
		}

		resp, err := client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
			lastErr = fmt.Errorf("unexpected status %s", resp.Status)
			_ = resp.Body.Close()
			continue
		}
		return resp, nil
	}
	return nil, fmt.Errorf("request failed after %d attempts: %w", maxRetries+1, lastErr)
}
