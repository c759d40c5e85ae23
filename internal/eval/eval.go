// Package eval scores the question answering pipeline against a labelled
// dataset: answer accuracy, retrieval recall and grounded accuracy.
package eval

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"docqa-rag/internal/models"

	"go.uber.org/zap"
)

// Dataset is the evaluation file layout
type Dataset struct {
	Questions []Question `json:"questions"`
}

// Question is one labelled question
type Question struct {
	QID            string         `json:"qid"`
	Question       string         `json:"question"`
	ExpectedAnswer ExpectedAnswer `json:"expected_answer"`
	// CitationSpans are passages that a correct retrieval must contain
	CitationSpans []string `json:"citation_spans"`
}

type ExpectedAnswer struct {
	Value string `json:"value"`
}

// AnswerFunc answers one question
type AnswerFunc func(ctx context.Context, question string) (*models.Response, error)

// Result is the outcome for one question
type Result struct {
	QID           string   `json:"qid"`
	Question      string   `json:"question"`
	Answer        string   `json:"answer"`
	Citations     []string `json:"citations"`
	AnswerCorrect bool     `json:"answer_correct"`
	RetrievalHit  bool     `json:"retrieval_hit"`
	Error         string   `json:"error,omitempty"`
}

// Summary holds the aggregate metrics, each in [0,1]
type Summary struct {
	AnswerAccuracy   float64 `json:"answer_accuracy"`
	RetrievalRecall  float64 `json:"retrieval_recall"`
	GroundedAccuracy float64 `json:"grounded_accuracy"`
	Total            int     `json:"total"`
	Failed           int     `json:"failed"`
}

// Report is a finished evaluation
type Report struct {
	Summary Summary  `json:"summary"`
	Results []Result `json:"results"`
}

// LoadDataset reads a dataset file
func LoadDataset(path string) (*Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset: %w", err)
	}
	var ds Dataset
	if err := json.Unmarshal(data, &ds); err != nil {
		return nil, fmt.Errorf("failed to parse dataset %s: %w", path, err)
	}
	if len(ds.Questions) == 0 {
		return nil, fmt.Errorf("dataset %s has no questions", path)
	}
	return &ds, nil
}

// Run answers every question and scores the answers. A failed question
// counts as wrong and the run continues; only cancellation stops it.
func Run(ctx context.Context, ds *Dataset, answer AnswerFunc, logger *zap.Logger) (*Report, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	report := &Report{Results: make([]Result, 0, len(ds.Questions))}

	var correct, hits, grounded int
	for i, q := range ds.Questions {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		logger.Info("evaluating question",
			zap.Int("index", i+1),
			zap.Int("total", len(ds.Questions)),
			zap.String("qid", q.QID))

		res := Result{QID: q.QID, Question: q.Question}
		resp, err := answer(ctx, q.Question)
		if err != nil {
			logger.Warn("question failed", zap.String("qid", q.QID), zap.Error(err))
			res.Error = err.Error()
			report.Summary.Failed++
			report.Results = append(report.Results, res)
			continue
		}

		res.Answer = resp.Answer
		for _, s := range resp.Sources {
			res.Citations = append(res.Citations, s.Chunk.Content)
		}
		res.AnswerCorrect = AnswerMatches(res.Answer, q.ExpectedAnswer.Value)
		res.RetrievalHit = RetrievalHit(res.Citations, q.CitationSpans)

		if res.AnswerCorrect {
			correct++
		}
		if res.RetrievalHit {
			hits++
		}
		if res.AnswerCorrect && res.RetrievalHit {
			grounded++
		}
		report.Results = append(report.Results, res)
	}

	total := len(ds.Questions)
	report.Summary.Total = total
	if total > 0 {
		report.Summary.AnswerAccuracy = float64(correct) / float64(total)
		report.Summary.RetrievalRecall = float64(hits) / float64(total)
		report.Summary.GroundedAccuracy = float64(grounded) / float64(total)
	}
	return report, nil
}

// AnswerMatches reports whether either answer contains the other after
// lower-casing and trimming. Empty answers never match.
func AnswerMatches(predicted, expected string) bool {
	p, e := normalize(predicted), normalize(expected)
	if p == "" || e == "" {
		return false
	}
	return strings.Contains(p, e) || strings.Contains(e, p)
}

// RetrievalHit reports whether any expected span appears in any citation
func RetrievalHit(citations, spans []string) bool {
	for _, span := range spans {
		s := normalize(span)
		if s == "" {
			continue
		}
		for _, c := range citations {
			if strings.Contains(normalize(c), s) {
				return true
			}
		}
	}
	return false
}

// Save writes the report as indented JSON
func (r *Report) Save(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
