package llm

import (
	"context"
	"fmt"
	"strings"

	"docqa-rag/internal/ragerr"

	"github.com/ollama/ollama/api"
)

// Generator completes a prompt. Each call is independent.
type Generator interface {
	Complete(ctx context.Context, prompt string, maxTokens int) (string, error)
}

// OllamaGenerator handles interactions with the Ollama generate API. The
// model is loaded by the server on first use, so the first call after start
// can take noticeably longer than the rest; call Warmup to pay that cost up
// front.
type OllamaGenerator struct {
	Client      *api.Client
	Model       string
	Temperature float64
	Stop        []string
}

// NewOllamaGenerator creates a new generator over an existing client
func NewOllamaGenerator(client *api.Client, model string, temperature float64) (*OllamaGenerator, error) {
	if client == nil {
		return nil, ragerr.New(ragerr.LLMInitialization, "ollama client is required")
	}
	if model == "" {
		return nil, ragerr.New(ragerr.LLMInitialization, "generation model is required")
	}
	return &OllamaGenerator{
		Client:      client,
		Model:       model,
		Temperature: temperature,
		Stop:        []string{"\nQuestion:"},
	}, nil
}

// Warmup asks the server to load the model without generating anything
func (o *OllamaGenerator) Warmup(ctx context.Context) error {
	req := api.GenerateRequest{Model: o.Model}
	if err := o.Client.Generate(ctx, &req, func(api.GenerateResponse) error { return nil }); err != nil {
		return ragerr.Wrap(ragerr.LLMInitialization, err, "failed to load model %s", o.Model)
	}
	return nil
}

// Complete generates a response from the LLM
func (o *OllamaGenerator) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	options := map[string]interface{}{
		"temperature": o.Temperature,
	}
	if maxTokens > 0 {
		options["num_predict"] = maxTokens
	}
	if len(o.Stop) > 0 {
		options["stop"] = o.Stop
	}
	req := api.GenerateRequest{
		Model:   o.Model,
		Prompt:  prompt,
		Options: options,
	}

	var responseBuilder strings.Builder

	err := o.Client.Generate(ctx, &req, func(resp api.GenerateResponse) error {
		_, err := responseBuilder.WriteString(resp.Response)
		return err
	})
	if err != nil {
		return "", ragerr.FromContext(ragerr.LLMGeneration, err, "failed to generate response")
	}

	return strings.TrimSpace(responseBuilder.String()), nil
}

// FirstParagraph keeps only the text before the first blank line
func FirstParagraph(text string) string {
	if i := strings.Index(text, "\n\n"); i >= 0 {
		return strings.TrimSpace(text[:i])
	}
	return text
}

// String describes the generator for logs
func (o *OllamaGenerator) String() string {
	return fmt.Sprintf("ollama(%s)", o.Model)
}
