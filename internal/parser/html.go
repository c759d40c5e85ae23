package parser

import (
	"context"
	"fmt"
	"os"
	"strings"

	"docqa-rag/internal/models"

	"golang.org/x/net/html"
)

// HTMLParser handles HTML files
type HTMLParser struct{}

func (p *HTMLParser) Parse(ctx context.Context, path string) ([]models.RawElement, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open html: %w", err)
	}
	defer f.Close()

	doc, err := html.Parse(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse html: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var elements []models.RawElement
	add := func(text string, cat models.Category) {
		if text != "" {
			elements = append(elements, models.RawElement{Text: text, Category: cat})
		}
	}

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "nav", "noscript":
				return
			case "title", "h1":
				add(textContent(n), models.CategoryTitle)
				return
			case "h2", "h3", "h4", "h5", "h6":
				add(textContent(n), models.CategoryHeading)
				return
			case "header":
				add(textContent(n), models.CategoryHeader)
				return
			case "footer":
				add(textContent(n), models.CategoryFooter)
				return
			case "p", "li", "td", "blockquote", "pre":
				add(textContent(n), models.CategoryBody)
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return elements, nil
}

func textContent(n *html.Node) string {
	var buf strings.Builder
	var extract func(*html.Node)
	extract = func(n *html.Node) {
		if n.Type == html.TextNode {
			buf.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			extract(c)
		}
	}
	extract(n)
	return strings.TrimSpace(buf.String())
}
