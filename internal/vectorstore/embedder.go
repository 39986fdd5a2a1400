package vectorstore

import (
	"context"

	"concierge/pkg/llm"
)

// LLMEmbedder adapts an embedding API client to the store's Embedder.
type LLMEmbedder struct {
	client llm.EmbeddingClient
}

func NewLLMEmbedder(client llm.EmbeddingClient) *LLMEmbedder {
	return &LLMEmbedder{client: client}
}

func (e *LLMEmbedder) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	return llm.EmbedQuery(ctx, e.client, query)
}
