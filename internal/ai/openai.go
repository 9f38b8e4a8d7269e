// internal/ai/openai.go
package ai

import (
	"github.com/sashabaranov/go-openai"
)

// AIService wraps the embeddings endpoint of OpenAI or any OpenAI-compatible
// server (Ollama, LM Studio) reachable at baseURL.
type AIService struct {
	client     *openai.Client
	model      openai.EmbeddingModel
	dimensions int
}

func NewAIService(apiKey, baseURL, model string, dimensions int) *AIService {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}

	return &AIService{
		client:     openai.NewClientWithConfig(cfg),
		model:      openai.EmbeddingModel(model),
		dimensions: dimensions,
	}
}

// Dimension is the fixed length of every vector this service produces.
func (ai *AIService) Dimension() int {
	return ai.dimensions
}
