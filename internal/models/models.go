package models

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Category is the structural role of a parsed text element
type Category int

const (
	CategoryBody Category = iota
	CategoryTitle
	CategoryHeading
	CategoryHeader
	CategoryFooter
)

// String returns the parser-facing name of the category
func (c Category) String() string {
	switch c {
	case CategoryTitle:
		return "Title"
	case CategoryHeading:
		return "Heading"
	case CategoryHeader:
		return "Header"
	case CategoryFooter:
		return "Footer"
	default:
		return "Body"
	}
}

// IsHeading reports whether the category can open a new section
func (c Category) IsHeading() bool {
	return c == CategoryTitle || c == CategoryHeading
}

// IsPageFurniture reports whether the category is running page text
func (c Category) IsPageFurniture() bool {
	return c == CategoryHeader || c == CategoryFooter
}

// ParseCategory resolves a loosely-typed parser tag once, at the parsing boundary.
// Anything that is not a title, heading, header or footer is body text.
func ParseCategory(tag string) Category {
	switch strings.ToLower(strings.TrimSpace(tag)) {
	case "title":
		return CategoryTitle
	case "heading", "header_heading", "sectionheader", "section_header":
		return CategoryHeading
	case "header", "pageheader", "page_header":
		return CategoryHeader
	case "footer", "pagefooter", "page_footer":
		return CategoryFooter
	default:
		return CategoryBody
	}
}

// RawElement is a typed text element produced by the parsing collaborator
type RawElement struct {
	Text     string   `json:"text"`
	Category Category `json:"category"`
	// Page is 1-based; zero means the source has no page information
	Page     int      `json:"page,omitempty"`
}

// CleanedUnit is a RawElement that survived normalization
type CleanedUnit struct {
	Text     string   `json:"text"`
	Category Category `json:"category"`
	Page     int      `json:"page,omitempty"`
}

// DocumentType selects the loader/sectioner strategy at the pipeline entry point
type DocumentType string

const (
	DocumentTypeUnstructured      DocumentType = "unstructured"
	DocumentTypeGeneralStructured DocumentType = "general_structured"
	DocumentTypeISOStructured     DocumentType = "iso_structured"
)

// DocumentTypes lists every supported document type
var DocumentTypes = []DocumentType{
	DocumentTypeUnstructured,
	DocumentTypeGeneralStructured,
	DocumentTypeISOStructured,
}

// ParseDocumentType validates a user supplied document type
func ParseDocumentType(s string) (DocumentType, error) {
	dt := DocumentType(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range DocumentTypes {
		if dt == known {
			return dt, nil
		}
	}
	return "", fmt.Errorf("unsupported document type: %q", s)
}

// DocumentInfo identifies a source document flowing through ingestion
type DocumentInfo struct {
	DocID      string `json:"doc_id"`
	Title      string `json:"title"`
	SourcePath string `json:"source_path"`
	FileName   string `json:"file_name"`
	DocFamily  string `json:"doc_family"`
	CorpusID   string `json:"corpus_id,omitempty"`
}

// Section is a heading-delimited span of document content
type Section struct {
	Title        string   `json:"section_title"`
	ClausePrefix string   `json:"clause_prefix,omitempty"`
	Body         []string `json:"body"`
	Pages        []int    `json:"pages"`
	Document     DocumentInfo
}

// Content joins the section body into paragraph-separated text
func (s Section) Content() string {
	return strings.Join(s.Body, "\n\n")
}

// ChunkMetadata travels with a chunk into the index
type ChunkMetadata struct {
	DocID        string   `json:"doc_id"`
	SourcePath   string   `json:"source_path"`
	FileName     string   `json:"file_name"`
	DocFamily    string   `json:"doc_family"`
	CorpusID     string   `json:"corpus_id,omitempty"`
	SectionTitle string   `json:"section_title"`
	ClausePrefix string   `json:"clause_prefix,omitempty"`
	Pages        []int    `json:"pages"`
	ChunkIndex   int      `json:"chunk_index"`
	TotalChunks  int      `json:"total_chunks"`
	// Overlap is the number of leading runes shared with the previous chunk
	Overlap      int      `json:"overlap"`
	References   []string `json:"references,omitempty"`
}

// Chunk is an indexable slice of a section
type Chunk struct {
	ID       string        `json:"id"`
	Content  string        `json:"content"`
	Metadata ChunkMetadata `json:"metadata"`
}

// Validate checks the structural invariants of a chunk
func (c Chunk) Validate() error {
	if strings.TrimSpace(c.Content) == "" {
		return fmt.Errorf("chunk %q has empty content", c.ID)
	}
	if c.Metadata.TotalChunks <= 0 {
		return fmt.Errorf("chunk %q has total_chunks %d", c.ID, c.Metadata.TotalChunks)
	}
	if c.Metadata.ChunkIndex < 0 || c.Metadata.ChunkIndex >= c.Metadata.TotalChunks {
		return fmt.Errorf("chunk %q has chunk_index %d outside [0,%d)", c.ID, c.Metadata.ChunkIndex, c.Metadata.TotalChunks)
	}
	if n := utf8.RuneCountInString(c.Content); c.Metadata.Overlap < 0 || c.Metadata.Overlap >= n {
		return fmt.Errorf("chunk %q has overlap %d for %d runes", c.ID, c.Metadata.Overlap, n)
	}
	return nil
}

// EmbeddedChunk pairs a chunk with its vector
type EmbeddedChunk struct {
	Chunk     Chunk     `json:"chunk"`
	Embedding []float32 `json:"embedding"`
}

// SearchHit is a raw nearest-neighbour result; lower distance is better
type SearchHit struct {
	Chunk    Chunk   `json:"chunk"`
	Distance float64 `json:"distance"`
}

// ScoredCandidate is a query-time candidate moving through retrieval and reranking
type ScoredCandidate struct {
	Chunk          Chunk   `json:"chunk"`
	DistanceScore  float64 `json:"distance_score"`
	RelevanceScore float64 `json:"rerank_score,omitempty"`
	FusedScore     float64 `json:"fused_score,omitempty"`
	// Reranked is set once RelevanceScore and FusedScore carry values
	Reranked       bool    `json:"reranked"`
}

// Query represents a user query
type Query struct {
	Text      string    `json:"text"`
	Embedding []float32 `json:"embedding"`
}

// Response represents the answer returned to the caller
type Response struct {
	Answer    string            `json:"answer"`
	Sources   []ScoredCandidate `json:"sources"`
	Timestamp string            `json:"timestamp"`
}
