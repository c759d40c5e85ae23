package pipeline

import (
	"context"
	"errors"
	"strings"
	"time"

	"docqa-rag/internal/llm"
	"docqa-rag/internal/logging"
	"docqa-rag/internal/models"
	"docqa-rag/internal/ragerr"
	"docqa-rag/internal/retrieval"

	"go.uber.org/zap"
)

// Answerer answers questions over the index
type Answerer struct {
	Retriever *retrieval.Retriever
	// Reranker is optional; without it candidates keep retrieval order
	Reranker  *retrieval.Reranker
	Generator llm.Generator

	TopN            int
	MaxScoreGap     float64
	FallbackOnError bool

	MaxTokens          int
	ContextChars       int
	TrimFirstParagraph bool

	Now func() time.Time
}

// Search retrieves and reranks candidates for query. A non-positive k uses
// the retriever's default.
func (a *Answerer) Search(ctx context.Context, query string, k int) ([]models.ScoredCandidate, error) {
	logger := logging.FromContext(ctx)

	candidates, err := a.Retriever.Retrieve(ctx, query, k)
	if err != nil {
		return nil, ragerr.Stage("retrieve", err)
	}
	if a.Reranker == nil {
		return retrieval.PassThrough(candidates, a.TopN), nil
	}

	ranked, err := a.Reranker.Rerank(ctx, query, candidates, a.TopN, a.MaxScoreGap)
	if err != nil {
		// a caller deadline is never degraded into pass-through
		if !a.FallbackOnError || (errors.Is(err, ragerr.Timeout) && ctx.Err() != nil) {
			return nil, ragerr.Stage("rerank", err)
		}
		logger.Warn("reranking failed, using retrieval order", zap.Error(err))
		return retrieval.PassThrough(candidates, a.TopN), nil
	}
	return ranked, nil
}

// Answer produces a grounded answer with its sources
func (a *Answerer) Answer(ctx context.Context, query string) (*models.Response, error) {
	query = strings.TrimSpace(query)
	if llm.IsSmallTalk(query) {
		return a.response(llm.SmallTalkResponse(query), []models.ScoredCandidate{}), nil
	}

	candidates, err := a.Search(ctx, query, 0)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return a.response(llm.NoInformation, []models.ScoredCandidate{}), nil
	}

	prompt := llm.BuildPrompt(query, llm.BuildContext(candidates, a.ContextChars))
	answer, err := a.Generator.Complete(ctx, prompt, a.MaxTokens)
	if err != nil {
		return nil, ragerr.Stage("generate", err)
	}
	if a.TrimFirstParagraph {
		answer = llm.FirstParagraph(answer)
	}

	logging.FromContext(ctx).Info("answered query",
		zap.Int("sources", len(candidates)),
		zap.Int("answer_chars", len(answer)))
	return a.response(answer, candidates), nil
}

func (a *Answerer) response(answer string, sources []models.ScoredCandidate) *models.Response {
	now := time.Now
	if a.Now != nil {
		now = a.Now
	}
	return &models.Response{
		Answer:    answer,
		Sources:   sources,
		Timestamp: now().Format(time.RFC3339),
	}
}
