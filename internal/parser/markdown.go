package parser

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"

	"docqa-rag/internal/models"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// MarkdownParser handles Markdown files using goldmark. A level one heading
// is the document title, deeper headings are section headings.
type MarkdownParser struct{}

func (p *MarkdownParser) Parse(ctx context.Context, path string) ([]models.RawElement, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read markdown file: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	doc := goldmark.New().Parser().Parse(text.NewReader(src))

	var elements []models.RawElement
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		switch node := n.(type) {
		case *ast.Heading:
			cat := models.CategoryHeading
			if node.Level == 1 {
				cat = models.CategoryTitle
			}
			if t := strings.TrimSpace(string(node.Text(src))); t != "" {
				elements = append(elements, models.RawElement{Text: t, Category: cat})
			}
		case *ast.ThematicBreak:
		default:
			if t := blockText(n, src); t != "" {
				elements = append(elements, models.RawElement{Text: t, Category: models.CategoryBody})
			}
		}
	}
	return elements, nil
}

// blockText gets the text content of a goldmark block, keeping line breaks
func blockText(n ast.Node, src []byte) string {
	var buf bytes.Buffer
	if n.Type() == ast.TypeBlock && n.Lines() != nil {
		lines := n.Lines()
		for i := 0; i < lines.Len(); i++ {
			line := lines.At(i)
			buf.Write(line.Value(src))
		}
		if lines.Len() > 0 && n.FirstChild() == nil {
			return strings.TrimSpace(buf.String())
		}
		buf.Reset()
	}
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if t, ok := c.(*ast.Text); ok {
			buf.Write(t.Segment.Value(src))
			if t.HardLineBreak() || t.SoftLineBreak() {
				buf.WriteByte('\n')
			}
			continue
		}
		if inner := blockText(c, src); inner != "" {
			if c.Type() == ast.TypeBlock && buf.Len() > 0 {
				buf.WriteByte('\n')
			}
			buf.WriteString(inner)
		}
	}
	return strings.TrimSpace(buf.String())
}
