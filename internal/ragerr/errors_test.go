package ragerr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindMatching(t *testing.T) {
	err := Wrap(Retrieval, io.EOF, "search failed")

	assert.True(t, errors.Is(err, Retrieval))
	assert.False(t, errors.Is(err, Reranking))
	assert.True(t, errors.Is(err, io.EOF))
	assert.True(t, IsRAGError(err))
	assert.Equal(t, "retrieval: search failed: EOF", err.Error())
}

func TestStageKeepsInnerKind(t *testing.T) {
	inner := WithPath(DocumentLoad, "/tmp/a.xyz", errors.New("unsupported extension .xyz"))
	err := fmt.Errorf("ingest: %w", Stage("load", inner))

	assert.True(t, errors.Is(err, Pipeline))
	assert.True(t, errors.Is(err, DocumentLoad))
	assert.Equal(t, DocumentLoad, KindOf(err))
	assert.Contains(t, err.Error(), "[load]")
	assert.Contains(t, err.Error(), "/tmp/a.xyz")
}

func TestKindOfPipelineOnly(t *testing.T) {
	err := Stage("chunk", errors.New("boom"))
	assert.Equal(t, Pipeline, KindOf(err))
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
	assert.False(t, IsRAGError(errors.New("plain")))
}

func TestFromContextMapsDeadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 0)
	defer cancel()
	<-ctx.Done()

	err := FromContext(Retrieval, ctx.Err(), "retrieve")
	require.True(t, errors.Is(err, Timeout))
	assert.False(t, errors.Is(err, Retrieval))

	err = FromContext(Reranking, io.ErrUnexpectedEOF, "rerank")
	assert.True(t, errors.Is(err, Reranking))
}
