package embedding

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"docqa-rag/internal/logging"

	"github.com/ollama/ollama/api"
	"github.com/ollama/ollama/envconfig"
	"go.uber.org/zap"
)

// OllamaEmbedder generates embeddings using Ollama API
type OllamaEmbedder struct {
	Client     *api.Client
	Model      string
	MaxRetries int
	Timeout    time.Duration
}

// NewClient builds an Ollama API client for host, falling back to OLLAMA_HOST
func NewClient(host string) (*api.Client, error) {
	hostURL := envconfig.Host()
	if host != "" {
		u, err := url.Parse(host)
		if err != nil {
			return nil, fmt.Errorf("invalid ollama host %q: %w", host, err)
		}
		hostURL = u
	}
	return api.NewClient(hostURL, http.DefaultClient), nil
}

// NewOllamaEmbedder creates a new Ollama embedder
func NewOllamaEmbedder(client *api.Client, model string, maxRetries int, timeout time.Duration) *OllamaEmbedder {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &OllamaEmbedder{
		Client:     client,
		Model:      model,
		MaxRetries: maxRetries,
		Timeout:    timeout,
	}
}

func (e *OllamaEmbedder) ModelName() string {
	return e.Model
}

// Embed generates an embedding for a text, retrying with a linear backoff
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var err error
	for retries := 0; retries <= e.MaxRetries; retries++ {
		if retries > 0 {
			logging.FromContext(ctx).Warn("retrying embedding", zap.Int("attempt", retries), zap.Error(err))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(retries) * time.Second):
			}
		}

		var embedding []float32
		embedding, err = e.createEmbedding(ctx, text)
		if err == nil {
			return embedding, nil
		}
		if ctx.Err() != nil {
			return nil, err
		}
	}

	return nil, fmt.Errorf("failed to create embedding after %d retries: %w", e.MaxRetries, err)
}

// createEmbedding is a helper function to create a single embedding
func (e *OllamaEmbedder) createEmbedding(ctx context.Context, text string) ([]float32, error) {
	req := api.EmbeddingRequest{
		Model:  e.Model,
		Prompt: text,
	}

	ctxWithTimeout, cancel := context.WithTimeout(ctx, e.Timeout)
	defer cancel()

	resp, err := e.Client.Embeddings(ctxWithTimeout, &req)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding: %w", err)
	}
	if len(resp.Embedding) == 0 {
		return nil, fmt.Errorf("model %s returned an empty embedding", e.Model)
	}

	out := make([]float32, len(resp.Embedding))
	for i, v := range resp.Embedding {
		out[i] = float32(v)
	}
	return out, nil
}
