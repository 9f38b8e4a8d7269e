// internal/ai/embeddings.go
package ai

import (
	"context"
	"fmt"

	"github.com/sashabaranov/go-openai"
)

// Encode creates a vector embedding for a single text.
func (ai *AIService) Encode(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("no text provided for embedding")
	}

	req := openai.EmbeddingRequest{
		Input: []string{text},
		Model: ai.model,
	}
	// Only the text-embedding-3 family accepts a dimensions override.
	if ai.model == openai.SmallEmbedding3 || ai.model == openai.LargeEmbedding3 {
		req.Dimensions = ai.dimensions
	}

	resp, err := ai.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to create embeddings: %w", err)
	}

	if len(resp.Data) != 1 {
		return nil, fmt.Errorf("embedding count mismatch: got %d, expected 1", len(resp.Data))
	}

	return resp.Data[0].Embedding, nil
}
