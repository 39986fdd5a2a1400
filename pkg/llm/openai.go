package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type OpenAIProvider struct {
	client    *http.Client
	apiKey    string
	apiURL    string
	model     string
	maxTokens int
}

func NewOpenAIProvider(cfg Config) *OpenAIProvider {
	apiURL := strings.TrimRight(cfg.APIURL, "/")
	if apiURL == "" {
		apiURL = "https://api.openai.com/v1"
	}
	return &OpenAIProvider{
		client:    &http.Client{Timeout: 60 * time.Second},
		apiKey:    cfg.APIKey,
		apiURL:    apiURL,
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
	}
}

func (p *OpenAIProvider) Complete(ctx context.Context, messages []Message, tools []Tool) (Completion, error) {
	if p.model == "" {
		return Completion{}, errors.New("openai model is required")
	}
	reqBody := openAIRequest{
		Model:    p.model,
		Messages: make([]openAIMessage, 0, len(messages)),
	}
	if p.maxTokens > 0 {
		reqBody.MaxTokens = p.maxTokens
	}
	for _, msg := range messages {
		reqBody.Messages = append(reqBody.Messages, toOpenAIMessage(msg))
	}
	if len(tools) > 0 {
		reqBody.Tools = make([]openAITool, 0, len(tools))
		for _, tool := range tools {
			reqBody.Tools = append(reqBody.Tools, openAITool{
				Type: "function",
				Function: openAIFunction{
					Name:        tool.Name,
					Description: tool.Description,
					Parameters:  tool.Parameters,
				},
			})
		}
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return Completion{}, fmt.Errorf("openai: marshal request: %w", err)
	}

	resp, err := doWithRetry(ctx, p.client, func() (*http.Request, error) {
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL+"/chat/completions", bytes.NewReader(payload))
		if reqErr != nil {
			return nil, fmt.Errorf("openai: create request: %w", reqErr)
		}
		req.Header.Set("Content-Type", "application/json")
		if p.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+p.apiKey)
		}
		return req, nil
	})
	if err != nil {
		return Completion{}, fmt.Errorf("openai: request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(resp.Body)
		return Completion{}, fmt.Errorf("openai: unexpected status %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var payloadResp openAIResponse
	if err := json.NewDecoder(resp.Body).Decode(&payloadResp); err != nil {
		return Completion{}, fmt.Errorf("openai: decode response: %w", err)
	}
	if len(payloadResp.Choices) == 0 {
		return Completion{}, errors.New("openai: response contained no choices")
	}

	choice := payloadResp.Choices[0].Message
	completion := Completion{Content: choice.Content}
	for _, call := range choice.ToolCalls {
		completion.ToolCalls = append(completion.ToolCalls, ToolCall{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: call.Function.Arguments,
		})
	}
	return completion, nil
}

type openAIRequest struct {
	Model     string          `json:"model"`
	Messages  []openAIMessage `json:"messages"`
	Tools     []openAITool    `json:"tools,omitempty"`
	MaxTokens int             `json:"max_completion_tokens,omitempty"`
}

type openAIMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content"`
	Name       string           `json:"name,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
	ToolCalls  []openAIToolCall `json:"tool_calls,omitempty"`
}

func toOpenAIMessage(msg Message) openAIMessage {
	out := openAIMessage{
		Role:       msg.Role,
		Content:    msg.Content,
		Name:       msg.Name,
		ToolCallID: msg.ToolCallID,
	}
	for _, call := range msg.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, openAIToolCall{
			ID:   call.ID,
			Type: "function",
			Function: openAIFunctionCall{
				Name:      call.Name,
				Arguments: call.Arguments,
			},
		})
	}
	return out
}

type openAITool struct {
	Type     string         `json:"type"`
	Function openAIFunction `json:"function"`
}

type openAIFunction struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content   string           `json:"content"`
			ToolCalls []openAIToolCall `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

type openAIToolCall struct {
	ID       string             `json:"id"`
	Type     string             `json:"type"`
	Function openAIFunctionCall `json:"function"`
}

type openAIFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}
