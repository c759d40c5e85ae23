package vectorstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"docqa-rag/internal/models"

	"go.uber.org/zap"
)

const snapshotFile = "index.json"

type snapshot struct {
	Dim    int                    `json:"dim"`
	Chunks []models.EmbeddedChunk `json:"chunks"`
}

// LocalStore keeps the index in memory and persists it as a JSON snapshot
// inside a directory. Search is a brute-force cosine scan with distance
// 1 - cos, in [0,2].
type LocalStore struct {
	dir    string
	logger *zap.Logger

	mu     sync.RWMutex
	dim    int
	order  []string
	chunks map[string]models.EmbeddedChunk
}

// OpenLocal opens or creates the store rooted at dir
func OpenLocal(dir string, logger *zap.Logger) (*LocalStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}
	s := &LocalStore{dir: dir, logger: logger, chunks: map[string]models.EmbeddedChunk{}}

	data, err := os.ReadFile(filepath.Join(dir, snapshotFile))
	switch {
	case errors.Is(err, os.ErrNotExist):
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("failed to read index snapshot: %w", err)
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode index snapshot: %w", err)
	}
	s.dim = snap.Dim
	for _, c := range snap.Chunks {
		s.order = put(s.chunks, s.order, c)
	}
	logger.Info("opened local index", zap.String("dir", dir), zap.Int("chunks", len(s.order)))
	return s, nil
}

func put(chunks map[string]models.EmbeddedChunk, order []string, c models.EmbeddedChunk) []string {
	if _, ok := chunks[c.Chunk.ID]; !ok {
		order = append(order, c.Chunk.ID)
	}
	chunks[c.Chunk.ID] = c
	return order
}

// Upsert adds or replaces chunks by ID and rewrites the snapshot. The
// in-memory index only changes once the snapshot is written, so a failed
// Upsert leaves both untouched.
func (s *LocalStore) Upsert(ctx context.Context, chunks []models.EmbeddedChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	dim := s.dim
	for _, c := range chunks {
		if len(c.Embedding) == 0 {
			return fmt.Errorf("chunk %s has no embedding", c.Chunk.ID)
		}
		if dim == 0 {
			dim = len(c.Embedding)
		}
		if len(c.Embedding) != dim {
			return fmt.Errorf("chunk %s has dimension %d, index has %d", c.Chunk.ID, len(c.Embedding), dim)
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	merged := make(map[string]models.EmbeddedChunk, len(s.chunks)+len(chunks))
	for id, c := range s.chunks {
		merged[id] = c
	}
	order := append([]string(nil), s.order...)
	for _, c := range chunks {
		order = put(merged, order, c)
	}
	if err := s.persist(dim, order, merged); err != nil {
		return err
	}
	s.dim, s.order, s.chunks = dim, order, merged
	return nil
}

// persist writes the snapshot atomically. Callers hold the write lock.
func (s *LocalStore) persist(dim int, order []string, chunks map[string]models.EmbeddedChunk) error {
	snap := snapshot{Dim: dim, Chunks: make([]models.EmbeddedChunk, 0, len(order))}
	for _, id := range order {
		snap.Chunks = append(snap.Chunks, chunks[id])
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode index snapshot: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, snapshotFile+".*")
	if err != nil {
		return fmt.Errorf("failed to write index snapshot: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write index snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write index snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, snapshotFile)); err != nil {
		return fmt.Errorf("failed to replace index snapshot: %w", err)
	}
	return nil
}

// Search returns the k nearest chunks by cosine distance
func (s *LocalStore) Search(ctx context.Context, vector []float32, k int) ([]models.SearchHit, error) {
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.dim != 0 && len(vector) != s.dim {
		return nil, fmt.Errorf("query has dimension %d, index has %d", len(vector), s.dim)
	}

	hits := make([]models.SearchHit, 0, len(s.order))
	for i, id := range s.order {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		c := s.chunks[id]
		hits = append(hits, models.SearchHit{Chunk: c.Chunk, Distance: CosineDistance(vector, c.Embedding)})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Distance < hits[j].Distance })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Reset deletes every chunk and the snapshot file
func (s *LocalStore) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.dim = 0
	s.order = nil
	s.chunks = map[string]models.EmbeddedChunk{}
	if err := os.Remove(filepath.Join(s.dir, snapshotFile)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove index snapshot: %w", err)
	}
	s.logger.Info("reset local index", zap.String("dir", s.dir))
	return nil
}

// Len reports the number of indexed chunks
func (s *LocalStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// ListSections returns the distinct section titles in index order
func (s *LocalStore) ListSections(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := map[string]bool{}
	var titles []string
	for _, id := range s.order {
		t := s.chunks[id].Chunk.Metadata.SectionTitle
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		titles = append(titles, t)
	}
	return titles, nil
}

// QueryBySection returns chunks whose section title starts with title,
// ignoring case, in index order
func (s *LocalStore) QueryBySection(ctx context.Context, title string, limit int) ([]models.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	prefix := strings.ToLower(strings.TrimSpace(title))
	var out []models.Chunk
	for _, id := range s.order {
		c := s.chunks[id].Chunk
		if strings.HasPrefix(strings.ToLower(c.Metadata.SectionTitle), prefix) {
			out = append(out, c)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (s *LocalStore) Close() error {
	return nil
}

// CosineDistance returns 1 - cos(a, b), or 1 when either vector is zero
func CosineDistance(a, b []float32) float64 {
	n := min(len(a), len(b))
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}
