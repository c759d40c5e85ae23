package database

import (
	"context"
	"fmt"

	"docqa-rag/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"
)

const chunkColumns = `id, content, doc_id, source_path, file_name, doc_family, corpus_id,
               section_title, clause_prefix, pages, chunk_index, total_chunks, overlap, refs`

// DB is a pgvector backed chunk index
type DB struct {
	Pool      *pgxpool.Pool
	Dimension int
	logger    *zap.Logger
}

// NewDB creates a new database connection
func NewDB(ctx context.Context, connStr string, dimension int, logger *zap.Logger) (*DB, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{Pool: pool, Dimension: dimension, logger: logger}, nil
}

// Initialize sets up the extension, the chunk table and its indices
func (db *DB) Initialize(ctx context.Context) error {
	if _, err := db.Pool.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	_, err := db.Pool.Exec(ctx, fmt.Sprintf(`
        CREATE TABLE IF NOT EXISTS doc_chunks (
            id TEXT PRIMARY KEY,
            content TEXT NOT NULL,
            doc_id TEXT NOT NULL,
            source_path TEXT NOT NULL DEFAULT '',
            file_name TEXT NOT NULL DEFAULT '',
            doc_family TEXT NOT NULL DEFAULT '',
            corpus_id TEXT NOT NULL DEFAULT '',
            section_title TEXT NOT NULL DEFAULT '',
            clause_prefix TEXT NOT NULL DEFAULT '',
            pages INTEGER[] NOT NULL DEFAULT '{}',
            chunk_index INTEGER NOT NULL,
            total_chunks INTEGER NOT NULL,
            overlap INTEGER NOT NULL DEFAULT 0,
            refs TEXT[] NOT NULL DEFAULT '{}',
            embedding vector(%d) NOT NULL
        )
    `, db.Dimension))
	if err != nil {
		return fmt.Errorf("failed to create doc_chunks table: %w", err)
	}

	// Create vector index
	_, err = db.Pool.Exec(ctx, `
		CREATE INDEX IF NOT EXISTS doc_chunks_embedding_idx ON doc_chunks
		USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100)
	`)
	if err != nil {
		return fmt.Errorf("failed to create vector index: %w", err)
	}

	_, err = db.Pool.Exec(ctx, `
		CREATE INDEX IF NOT EXISTS doc_chunks_section_idx ON doc_chunks (section_title);
		CREATE INDEX IF NOT EXISTS doc_chunks_doc_idx ON doc_chunks (doc_id);
	`)
	if err != nil {
		return fmt.Errorf("failed to create additional indices: %w", err)
	}

	return nil
}

// Upsert stores chunks, replacing any row with the same id
func (db *DB) Upsert(ctx context.Context, chunks []models.EmbeddedChunk) error {
	if len(chunks) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, c := range chunks {
		if len(c.Embedding) != db.Dimension {
			return fmt.Errorf("chunk %s has dimension %d, table has %d", c.Chunk.ID, len(c.Embedding), db.Dimension)
		}
		m := c.Chunk.Metadata
		batch.Queue(`
            INSERT INTO doc_chunks (`+chunkColumns+`, embedding)
            VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
            ON CONFLICT (id) DO UPDATE SET
                content = EXCLUDED.content,
                doc_id = EXCLUDED.doc_id,
                source_path = EXCLUDED.source_path,
                file_name = EXCLUDED.file_name,
                doc_family = EXCLUDED.doc_family,
                corpus_id = EXCLUDED.corpus_id,
                section_title = EXCLUDED.section_title,
                clause_prefix = EXCLUDED.clause_prefix,
                pages = EXCLUDED.pages,
                chunk_index = EXCLUDED.chunk_index,
                total_chunks = EXCLUDED.total_chunks,
                overlap = EXCLUDED.overlap,
                refs = EXCLUDED.refs,
                embedding = EXCLUDED.embedding
        `,
			c.Chunk.ID,
			c.Chunk.Content,
			m.DocID,
			m.SourcePath,
			m.FileName,
			m.DocFamily,
			m.CorpusID,
			m.SectionTitle,
			m.ClausePrefix,
			nonNilInts(m.Pages),
			m.ChunkIndex,
			m.TotalChunks,
			m.Overlap,
			nonNilStrings(m.References),
			pgvector.NewVector(c.Embedding))
	}

	br := db.Pool.SendBatch(ctx, batch)
	defer br.Close()
	for range chunks {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("failed to upsert chunk: %w", err)
		}
	}
	db.logger.Debug("upserted chunks", zap.Int("count", len(chunks)))
	return nil
}

// Search finds the chunks closest to the query embedding by cosine distance
func (db *DB) Search(ctx context.Context, vector []float32, k int) ([]models.SearchHit, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+chunkColumns+`, embedding <=> $1 AS distance
		FROM doc_chunks
		ORDER BY distance
		LIMIT $2
	`, pgvector.NewVector(vector), k)
	if err != nil {
		return nil, fmt.Errorf("failed to query similar chunks: %w", err)
	}
	defer rows.Close()

	var hits []models.SearchHit
	for rows.Next() {
		var hit models.SearchHit
		if err := rows.Scan(append(chunkDest(&hit.Chunk), &hit.Distance)...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return hits, nil
}

// QueryBySection finds chunks whose section title starts with title
func (db *DB) QueryBySection(ctx context.Context, title string, limit int) ([]models.Chunk, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Pool.Query(ctx, `
        SELECT `+chunkColumns+`
        FROM doc_chunks
        WHERE section_title ILIKE $1 || '%'
        ORDER BY doc_id, id
        LIMIT $2
    `, title, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query section chunks: %w", err)
	}
	return processRows(rows)
}

// QueryByReference finds chunks that cite a clause reference
func (db *DB) QueryByReference(ctx context.Context, ref string) ([]models.Chunk, error) {
	rows, err := db.Pool.Query(ctx, `
        SELECT `+chunkColumns+`
        FROM doc_chunks
        WHERE $1 = ANY(refs)
        ORDER BY doc_id, id
    `, ref)
	if err != nil {
		return nil, fmt.Errorf("failed to query reference chunks: %w", err)
	}
	return processRows(rows)
}

// ListSections retrieves all indexed section titles
func (db *DB) ListSections(ctx context.Context) ([]string, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT DISTINCT section_title FROM doc_chunks WHERE section_title != '' ORDER BY section_title
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query sections: %w", err)
	}
	defer rows.Close()

	var sections []string
	for rows.Next() {
		var section string
		if err := rows.Scan(&section); err != nil {
			return nil, fmt.Errorf("failed to scan section: %w", err)
		}
		sections = append(sections, section)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return sections, nil
}

// Reset removes every indexed chunk
func (db *DB) Reset(ctx context.Context) error {
	if _, err := db.Pool.Exec(ctx, `TRUNCATE doc_chunks`); err != nil {
		return fmt.Errorf("failed to truncate doc_chunks: %w", err)
	}
	db.logger.Info("reset postgres index")
	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	db.Pool.Close()
	return nil
}

func chunkDest(c *models.Chunk) []any {
	m := &c.Metadata
	return []any{
		&c.ID,
		&c.Content,
		&m.DocID,
		&m.SourcePath,
		&m.FileName,
		&m.DocFamily,
		&m.CorpusID,
		&m.SectionTitle,
		&m.ClausePrefix,
		&m.Pages,
		&m.ChunkIndex,
		&m.TotalChunks,
		&m.Overlap,
		&m.References,
	}
}

func processRows(rows pgx.Rows) ([]models.Chunk, error) {
	defer rows.Close()

	var chunks []models.Chunk
	for rows.Next() {
		var chunk models.Chunk
		if err := rows.Scan(chunkDest(&chunk)...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		chunks = append(chunks, chunk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return chunks, nil
}

func nonNilInts(v []int) []int {
	if v == nil {
		return []int{}
	}
	return v
}

func nonNilStrings(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
