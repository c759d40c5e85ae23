// Package vectorstore defines the index collaborator and a directory backed
// implementation of it.
package vectorstore

import (
	"context"

	"docqa-rag/internal/models"
)

// Store is the nearest-neighbour index. Distances returned by Search are
// lower-is-better. Reset clears every persisted vector at the store's
// location; stores are not safe for concurrent writers to the same location,
// so reset before a bulk reindex and run one writer at a time.
type Store interface {
	Upsert(ctx context.Context, chunks []models.EmbeddedChunk) error
	Search(ctx context.Context, vector []float32, k int) ([]models.SearchHit, error)
	Reset(ctx context.Context) error
	Close() error
}

// SectionLister is implemented by stores that can enumerate indexed sections
type SectionLister interface {
	ListSections(ctx context.Context) ([]string, error)
	QueryBySection(ctx context.Context, title string, limit int) ([]models.Chunk, error)
}
