package eval

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"docqa-rag/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const dataset = `{
  "questions": [
    {"qid": "q1", "question": "Who approves the policy?", "expected_answer": {"value": "top management"},
     "citation_spans": ["approved by top management"]},
    {"qid": "q2", "question": "How often are access rights reviewed?", "expected_answer": {"value": "at planned intervals"},
     "citation_spans": ["reviewed at planned intervals"]},
    {"qid": "q3", "question": "What is out of scope?", "expected_answer": {"value": "physical premises"},
     "citation_spans": ["premises"]}
  ]
}`

func writeDataset(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dataset.json")
	require.NoError(t, os.WriteFile(path, []byte(dataset), 0o644))
	return path
}

func source(text string) models.ScoredCandidate {
	return models.ScoredCandidate{Chunk: models.Chunk{Content: text}}
}

func TestRunScoresQuestions(t *testing.T) {
	ds, err := LoadDataset(writeDataset(t))
	require.NoError(t, err)
	require.Len(t, ds.Questions, 3)

	answers := map[string]*models.Response{
		"Who approves the policy?": {
			Answer:  "The policy is approved by Top Management.",
			Sources: []models.ScoredCandidate{source("The policy shall be approved by top  management.")},
		},
		"How often are access rights reviewed?": {
			Answer:  "Not specified in the document.",
			Sources: []models.ScoredCandidate{source("Access rights are reviewed at planned intervals.")},
		},
	}
	answer := func(_ context.Context, q string) (*models.Response, error) {
		if r, ok := answers[q]; ok {
			return r, nil
		}
		return nil, errors.New("generation failed")
	}

	report, err := Run(context.Background(), ds, answer, nil)
	require.NoError(t, err)
	require.Len(t, report.Results, 3)

	assert.True(t, report.Results[0].AnswerCorrect)
	assert.True(t, report.Results[0].RetrievalHit)
	assert.False(t, report.Results[1].AnswerCorrect)
	assert.True(t, report.Results[1].RetrievalHit)
	assert.Equal(t, "generation failed", report.Results[2].Error)

	s := report.Summary
	assert.Equal(t, 3, s.Total)
	assert.Equal(t, 1, s.Failed)
	assert.InDelta(t, 1.0/3, s.AnswerAccuracy, 1e-9)
	assert.InDelta(t, 2.0/3, s.RetrievalRecall, 1e-9)
	assert.InDelta(t, 1.0/3, s.GroundedAccuracy, 1e-9)

	out := filepath.Join(t.TempDir(), "results.json")
	require.NoError(t, report.Save(out))
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"grounded_accuracy"`)
}

func TestAnswerMatches(t *testing.T) {
	assert.True(t, AnswerMatches("Top management", "top management approves it"))
	assert.True(t, AnswerMatches("it is approved by TOP management", "top management"))
	assert.False(t, AnswerMatches("", "top management"))
	assert.False(t, AnswerMatches("the board", "top management"))
}

func TestLoadDatasetErrors(t *testing.T) {
	_, err := LoadDataset(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "empty.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"questions": []}`), 0o644))
	_, err = LoadDataset(path)
	assert.Error(t, err)
}
