// Package embeddings implements ltm.Embedder against the OpenAI-compatible
// embeddings endpoint, the same client-construction shape the LLM Gateway's
// internal/llm/openai provider uses for chat completions.
package embeddings

import (
	"context"
	"errors"

	openai "github.com/sashabaranov/go-openai"

	"github.com/agentcore/agentcore/internal/models"
)

// Config configures the OpenAI-compatible embeddings client.
type Config struct {
	APIKey  string
	BaseURL string
	// Model is the embedding model ID, e.g. "text-embedding-3-small".
	Model string
	// Dimension is the vector width the configured Model produces. Callers
	// must keep this in sync with Model; it is not derived from the API.
	Dimension int
}

// Client embeds text via an OpenAI-compatible /embeddings endpoint.
type Client struct {
	client *openai.Client
	model  string
	dim    int
}

// New constructs an embeddings Client. A nil/empty APIKey yields a client
// that fails every call with NoKeyConfigured, mirroring internal/llm/openai.
func New(cfg Config) *Client {
	c := &Client{model: cfg.Model, dim: cfg.Dimension}
	if c.model == "" {
		c.model = "text-embedding-3-small"
	}
	if c.dim == 0 {
		c.dim = 1536
	}
	if cfg.APIKey == "" {
		return c
	}
	oaConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oaConfig.BaseURL = cfg.BaseURL
	}
	c.client = openai.NewClientWithConfig(oaConfig)
	return c
}

// Dimension reports the width of vectors this Client produces.
func (c *Client) Dimension() int { return c.dim }

// Embed returns a single dense embedding for text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if c.client == nil {
		return nil, models.NewError(models.KindNoKeyConfigured, "embeddings API key not configured", nil)
	}
	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(c.model),
	})
	if err != nil {
		return nil, wrapErr(err)
	}
	if len(resp.Data) == 0 {
		return nil, models.NewError(models.KindProviderError, "embeddings response contained no vectors", nil)
	}
	return resp.Data[0].Embedding, nil
}

func wrapErr(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case 429:
			return models.NewError(models.KindProviderRateLimited, "embeddings rate limited", err)
		case 408, 504:
			return models.NewError(models.KindProviderTimeout, "embeddings request timed out", err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return models.NewError(models.KindProviderTimeout, "embeddings request timed out", err)
	}
	return models.NewError(models.KindProviderError, "embeddings request failed", err)
}
