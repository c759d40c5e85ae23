package retrieval

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/ollama/ollama/api"
	"golang.org/x/sync/errgroup"
)

var scorePattern = regexp.MustCompile(`\d+(?:\.\d+)?`)

// OllamaScorer asks a local model to grade each passage from 0 to 10 and
// reports the grade scaled to [0,1]
type OllamaScorer struct {
	Client        *api.Client
	Model         string
	MaxConcurrent int
}

// NewOllamaScorer creates a model-judged scorer
func NewOllamaScorer(client *api.Client, model string) *OllamaScorer {
	return &OllamaScorer{Client: client, Model: model, MaxConcurrent: 2}
}

// Score grades every passage against query
func (s *OllamaScorer) Score(ctx context.Context, query string, passages []string) ([]float64, error) {
	scores := make([]float64, len(passages))
	limit := s.MaxConcurrent
	if limit <= 0 {
		limit = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, p := range passages {
		g.Go(func() error {
			score, err := s.grade(gctx, query, p)
			if err != nil {
				return err
			}
			scores[i] = score
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return scores, nil
}

func (s *OllamaScorer) grade(ctx context.Context, query, passage string) (float64, error) {
	req := api.GenerateRequest{
		Model:  s.Model,
		Prompt: gradePrompt(query, passage),
		Options: map[string]interface{}{
			"temperature": 0,
			"num_predict": 8,
		},
	}

	var out strings.Builder
	err := s.Client.Generate(ctx, &req, func(resp api.GenerateResponse) error {
		_, err := out.WriteString(resp.Response)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to grade passage: %w", err)
	}
	return ParseGrade(out.String())
}

func gradePrompt(query, passage string) string {
	var b strings.Builder
	b.WriteString("Rate how well the passage answers the question on a scale from 0 (unrelated) to 10 (fully answers it). ")
	b.WriteString("Reply with the number only.\n\n")
	b.WriteString("Question: " + query + "\n\n")
	b.WriteString("Passage:\n" + passage + "\n\n")
	b.WriteString("Score: ")
	return b.String()
}

// ParseGrade reads the first number in a model reply as a 0-10 grade and
// scales it to [0,1]
func ParseGrade(reply string) (float64, error) {
	m := scorePattern.FindString(reply)
	if m == "" {
		return 0, fmt.Errorf("no score in reply %q", strings.TrimSpace(reply))
	}
	v, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return 0, err
	}
	return clamp01(v / 10), nil
}
