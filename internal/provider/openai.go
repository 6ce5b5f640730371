package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// OpenAIConfig configures the OpenAI provider.
type OpenAIConfig struct {
	APIKey         string
	BaseURL        string // default https://api.openai.com/v1
	Model          string // completion model
	EmbeddingModel string
	Dimension      int
	Timeout        time.Duration
}

// OpenAI talks to the OpenAI API (or any compatible endpoint).
type OpenAI struct {
	cfg     OpenAIConfig
	client  *http.Client
	breaker *breaker
}

var (
	_ Embedder = (*OpenAI)(nil)
	_ Reasoner = (*OpenAI)(nil)
)

// NewOpenAI creates an OpenAI provider. The API key is required.
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: API key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = "text-embedding-3-small"
	}
	if cfg.Dimension < 1 {
		cfg.Dimension = 1536
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &OpenAI{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		breaker: newBreaker("openai"),
	}, nil
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type embeddingsRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingsResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (o *OpenAI) Complete(ctx context.Context, prompt string) (string, error) {
	result, err := o.breaker.execute(ctx, func() (interface{}, error) {
		var resp chatResponse
		err := o.post(ctx, "/chat/completions", chatRequest{
			Model:    o.cfg.Model,
			Messages: []chatMessage{{Role: "user", Content: prompt}},
		}, &resp)
		if err != nil {
			return nil, err
		}
		if len(resp.Choices) == 0 {
			return nil, fmt.Errorf("openai returned no choices")
		}
		return resp.Choices[0].Message.Content, nil
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

func (o *OpenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := o.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (o *OpenAI) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	result, err := o.breaker.execute(ctx, func() (interface{}, error) {
		var resp embeddingsResponse
		err := o.post(ctx, "/embeddings", embeddingsRequest{
			Model: o.cfg.EmbeddingModel,
			Input: texts,
		}, &resp)
		if err != nil {
			return nil, err
		}
		if len(resp.Data) != len(texts) {
			return nil, fmt.Errorf("openai returned %d embeddings for %d inputs",
				len(resp.Data), len(texts))
		}
		// The API may reorder results; index is authoritative.
		out := make([][]float32, len(texts))
		for _, d := range resp.Data {
			if d.Index < 0 || d.Index >= len(out) {
				return nil, fmt.Errorf("openai returned out-of-range index %d", d.Index)
			}
			out[d.Index] = d.Embedding
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([][]float32), nil
}

func (o *OpenAI) post(ctx context.Context, path string, body, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()

	jsonData, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.cfg.BaseURL+path, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.cfg.APIKey)

	resp, err := o.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("openai returned status %d: %s", resp.StatusCode, string(raw))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (o *OpenAI) Dimension() int { return o.cfg.Dimension }
func (o *OpenAI) Model() string  { return o.cfg.Model }
