package parser

import (
	"context"
	"fmt"
	"os"
	"strings"

	"docqa-rag/internal/models"

	"github.com/fumiama/go-docx"
)

// DOCXParser handles .docx files, mapping paragraph styles to categories
type DOCXParser struct{}

func (p *DOCXParser) Parse(ctx context.Context, path string) ([]models.RawElement, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open docx: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat docx: %w", err)
	}
	doc, err := docx.Parse(f, info.Size())
	if err != nil {
		return nil, fmt.Errorf("failed to parse docx: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var elements []models.RawElement
	for _, item := range doc.Document.Body.Items {
		para, ok := item.(*docx.Paragraph)
		if !ok {
			continue
		}
		text := docxParagraphText(para)
		if text == "" {
			continue
		}
		elements = append(elements, models.RawElement{Text: text, Category: docxCategory(para)})
	}
	return elements, nil
}

func docxCategory(para *docx.Paragraph) models.Category {
	if para.Properties == nil || para.Properties.Style == nil {
		return models.CategoryBody
	}
	style := strings.ToLower(strings.ReplaceAll(para.Properties.Style.Val, " ", ""))
	switch {
	case style == "title":
		return models.CategoryTitle
	case strings.HasPrefix(style, "heading"):
		return models.CategoryHeading
	case style == "header":
		return models.CategoryHeader
	case style == "footer":
		return models.CategoryFooter
	}
	return models.CategoryBody
}

func docxParagraphText(para *docx.Paragraph) string {
	var buf strings.Builder
	for _, child := range para.Children {
		run, ok := child.(*docx.Run)
		if !ok {
			continue
		}
		for _, rc := range run.Children {
			if t, ok := rc.(*docx.Text); ok {
				buf.WriteString(t.Text)
			}
		}
	}
	return strings.TrimSpace(buf.String())
}
