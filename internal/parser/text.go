package parser

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"docqa-rag/internal/models"
)

// TextParser handles plain text files. Paragraphs are blank-line separated
// and plain text carries no page numbers.
type TextParser struct{}

func (p *TextParser) Parse(ctx context.Context, path string) ([]models.RawElement, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open text file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var b strings.Builder
	for scanner.Scan() {
		b.WriteString(scanner.Text())
		b.WriteByte('\n')
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read text file: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var elements []models.RawElement
	for _, para := range splitParagraphs(b.String()) {
		elements = append(elements, splitHeadingLines(para, 0)...)
	}
	return elements, nil
}
