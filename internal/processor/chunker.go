package processor

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"docqa-rag/internal/logging"
	"docqa-rag/internal/models"
	"docqa-rag/internal/ragerr"

	"go.uber.org/zap"
)

const (
	// Sections up to this size are indexed whole
	DefaultMaxSize   = 2000
	DefaultChunkSize = 1400
	DefaultOverlap   = 150
)

var sentenceEndRe = regexp.MustCompile(`[.!?]+\s+`)

// separator returns the cut positions in text, each just after a separator
type separator func(text string) []int

func literalSeparator(sep string) separator {
	return func(text string) []int {
		var cuts []int
		for from := 0; ; {
			i := strings.Index(text[from:], sep)
			if i < 0 {
				return cuts
			}
			from += i + len(sep)
			if from < len(text) {
				cuts = append(cuts, from)
			}
		}
	}
}

func patternSeparator(re *regexp.Regexp) separator {
	return func(text string) []int {
		var cuts []int
		for _, m := range re.FindAllStringIndex(text, -1) {
			if m[1] < len(text) {
				cuts = append(cuts, m[1])
			}
		}
		return cuts
	}
}

// separators in priority order: paragraph, line, sentence, word
var separators = []separator{
	literalSeparator("\n\n"),
	literalSeparator("\n"),
	patternSeparator(sentenceEndRe),
	literalSeparator(" "),
}

type span struct{ start, end int }

// Chunker splits oversized sections into overlapping chunks.
//
// Sizes are counted in runes. A section no longer than MaxSize becomes one
// chunk.
// Larger sections are cut recursively on paragraph breaks, then newlines,
// then sentence ends, then spaces and finally rune boundaries into pieces of
// at most ChunkSize-Overlap, which are packed greedily into chunks of at most
// ChunkSize. Every chunk after the first starts Overlap runes before the end
// of its predecessor, so dropping Metadata.Overlap leading runes from each
// continuation chunk and concatenating restores the section text. Spans stay
// byte offsets for slicing.
//
// With KeepAtomicUnits a word longer than a piece is kept whole instead of
// being cut at rune boundaries.
type Chunker struct {
	MaxSize         int
	ChunkSize       int
	Overlap         int
	KeepAtomicUnits bool
}

// NewChunker creates a chunker, using defaults for zero sizes
func NewChunker(maxSize, chunkSize, overlap int, keepAtomic bool) (*Chunker, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if overlap < 0 || overlap >= chunkSize {
		return nil, fmt.Errorf("overlap %d must be within [0,%d)", overlap, chunkSize)
	}
	if chunkSize > maxSize {
		return nil, fmt.Errorf("chunk size %d exceeds max size %d", chunkSize, maxSize)
	}
	return &Chunker{MaxSize: maxSize, ChunkSize: chunkSize, Overlap: overlap, KeepAtomicUnits: keepAtomic}, nil
}

// Chunk turns sections into validated chunks in section order
func (c *Chunker) Chunk(ctx context.Context, sections []models.Section) ([]models.Chunk, error) {
	logger := logging.FromContext(ctx)

	var chunks []models.Chunk
	for si, section := range sections {
		content := section.Content()
		if strings.TrimSpace(content) == "" {
			continue
		}

		var spans []span
		var overlaps []int
		size := utf8.RuneCountInString(content)
		if size <= c.MaxSize {
			spans = []span{{0, len(content)}}
			overlaps = []int{0}
		} else {
			spans, overlaps = c.pack(content, c.leaves(content, 0, 0))
			logger.Debug("split section",
				zap.String("title", section.Title),
				zap.Int("size", size),
				zap.Int("chunks", len(spans)),
			)
		}

		for i, sp := range spans {
			text := content[sp.start:sp.end]
			chunk := models.Chunk{
				ID:      chunkID(section.Document.DocID, si, i),
				Content: text,
				Metadata: models.ChunkMetadata{
					DocID:        section.Document.DocID,
					SourcePath:   section.Document.SourcePath,
					FileName:     section.Document.FileName,
					DocFamily:    section.Document.DocFamily,
					CorpusID:     section.Document.CorpusID,
					SectionTitle: section.Title,
					ClausePrefix: section.ClausePrefix,
					Pages:        append([]int(nil), section.Pages...),
					ChunkIndex:   i,
					TotalChunks:  len(spans),
					Overlap:      overlaps[i],
					References:   ExtractReferences(text),
				},
			}
			if err := chunk.Validate(); err != nil {
				return nil, ragerr.Wrap(ragerr.InvalidSchema, err, "section %q", section.Title)
			}
			chunks = append(chunks, chunk)
		}
	}
	return chunks, nil
}

func chunkID(docID string, section, index int) string {
	return fmt.Sprintf("%s#s%04d-c%03d", docID, section, index)
}

// leaves cuts text into contiguous pieces no longer than the piece limit,
// trying separators from level onwards. base is the offset of text in the
// section.
func (c *Chunker) leaves(text string, base, level int) []span {
	limit := c.ChunkSize - c.Overlap
	if utf8.RuneCountInString(text) <= limit {
		return []span{{base, base + len(text)}}
	}
	if level >= len(separators) {
		if c.KeepAtomicUnits {
			return []span{{base, base + len(text)}}
		}
		return runeSpans(text, base, limit)
	}

	cuts := separators[level](text)
	if len(cuts) == 0 {
		return c.leaves(text, base, level+1)
	}

	var out []span
	prev := 0
	for _, cut := range append(cuts, len(text)) {
		piece := text[prev:cut]
		if utf8.RuneCountInString(piece) <= limit {
			out = append(out, span{base + prev, base + cut})
		} else {
			out = append(out, c.leaves(piece, base+prev, level+1)...)
		}
		prev = cut
	}
	return out
}

// runeSpans cuts text into pieces of at most limit runes
func runeSpans(text string, base, limit int) []span {
	var out []span
	start, n := 0, 0
	for i := range text {
		if n == limit {
			out = append(out, span{base + start, base + i})
			start, n = i, 0
		}
		n++
	}
	return append(out, span{base + start, base + len(text)})
}

// pack merges consecutive leaves into chunks of at most ChunkSize, each
// continuation chunk reaching back Overlap runes into its predecessor.
// Leaves are contiguous.
func (c *Chunker) pack(content string, leaves []span) ([]span, []int) {
	var spans []span
	var overlaps []int

	start, overlap := 0, 0
	for i := 0; i < len(leaves); {
		end := leaves[i].end
		size := utf8.RuneCountInString(content[start:end])
		i++
		for i < len(leaves) {
			n := utf8.RuneCountInString(content[leaves[i].start:leaves[i].end])
			if size+n > c.ChunkSize {
				break
			}
			size += n
			end = leaves[i].end
			i++
		}
		spans = append(spans, span{start, end})
		overlaps = append(overlaps, overlap)
		if i == len(leaves) {
			break
		}

		next := end
		for overlap = 0; overlap < c.Overlap && next > start; overlap++ {
			_, w := utf8.DecodeLastRuneInString(content[start:next])
			next -= w
		}
		start = next
	}
	return spans, overlaps
}
