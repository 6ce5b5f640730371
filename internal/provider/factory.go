package provider

import (
	"fmt"

	"github.com/awarenet/memcore/internal/config"
)

// Build constructs the embedder and reasoner selected by the configuration.
func Build(cfg config.ProviderConfig, dim int) (Embedder, Reasoner, error) {
	switch cfg.Provider {
	case "ollama":
		o := NewOllama(OllamaConfig{
			BaseURL:        cfg.OllamaURL,
			Model:          cfg.OllamaModel,
			EmbeddingModel: cfg.OllamaEmbeddingModel,
			Dimension:      dim,
			Timeout:        cfg.Timeout,
		})
		return o, o, nil

	case "openai":
		o, err := NewOpenAI(OpenAIConfig{
			APIKey:         cfg.OpenAIAPIKey,
			Model:          cfg.OpenAIModel,
			EmbeddingModel: cfg.OpenAIEmbeddingModel,
			Dimension:      dim,
			Timeout:        cfg.Timeout,
		})
		if err != nil {
			return nil, nil, err
		}
		return o, o, nil

	case "mock":
		return NewMockEmbedder(dim), NewMockReasoner(), nil

	default:
		return nil, nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}
