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

type EmbeddingClient interface {
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
}

type EmbeddingProvider struct {
	client *http.Client
	apiKey string
	apiURL string
	model  string
}

func NewEmbeddingClient(cfg Config) (EmbeddingClient, error) {
	if cfg.Model == "" {
		return nil, errors.New("embedding model is required")
	}
	apiURL := strings.TrimRight(cfg.APIURL, "/")
	if apiURL == "" {
		apiURL = "https://api.openai.com/v1"
	}

	return &EmbeddingProvider{
		client: &http.Client{Timeout: 120 * time.Second},
		apiKey: cfg.APIKey,
		apiURL: apiURL,
		model:  cfg.Model,
	}, nil
}

type openAIEmbeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type openAIEmbeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (p *EmbeddingProvider) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return nil, errors.New("inputs are required")
	}

	payload, err := json.Marshal(openAIEmbeddingRequest{Model: p.model, Input: inputs})
	if err != nil {
		return nil, fmt.Errorf("embed: marshal request: %w", err)
	}

	resp, err := doWithRetry(ctx, p.client, func() (*http.Request, error) {
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL+"/embeddings", bytes.NewReader(payload))
		if reqErr != nil {
			return nil, fmt.Errorf("create request: %w", reqErr)
		}
		req.Header.Set("Content-Type", "application/json")
		if p.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+p.apiKey)
		}
		return req, nil
	})
	if err != nil {
		return nil, fmt.Errorf("embed: request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embed: unexpected status %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var decoded openAIEmbeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("embed: decode response: %w", err)
	}
	if len(decoded.Data) != len(inputs) {
		return nil, fmt.Errorf("embed: expected %d vectors, got %d", len(inputs), len(decoded.Data))
	}

	vectors := make([][]float32, 0, len(decoded.Data))
	for _, item := range decoded.Data {
		vectors = append(vectors, item.Embedding)
	}
	return vectors, nil
}

// EmbedQuery embeds a single query string.
func EmbedQuery(ctx context.Context, client EmbeddingClient, query string) ([]float32, error) {
	vecs, err := client.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 || len(vecs[0]) == 0 {
		return nil, errors.New("embed: empty embedding returned")
	}
	return vecs[0], nil
}
