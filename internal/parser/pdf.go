package parser

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"docqa-rag/internal/models"

	"github.com/ledongthuc/pdf"
)

const (
	// Running text longer than this is never treated as a header or footer
	maxFurnitureRunes = 50
	// Header/footer lines inspected at each end of a page
	furnitureLines = 2
)

var (
	pageLabelPattern = regexp.MustCompile(`(?i)^(page\s*)?\d{1,4}(\s*(of|/)\s*\d{1,4})?$`)
	digitsPattern    = regexp.MustCompile(`\d+`)
)

// PDFParser handles PDF files page by page
type PDFParser struct{}

func (p *PDFParser) Parse(ctx context.Context, path string) ([]models.RawElement, error) {
	pages, err := extractPages(path)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return pageElements(pages), nil
}

// extractPages returns the plain text of every page, index 0 being page 1
func extractPages(path string) ([]string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer f.Close()

	pages := make([]string, 0, r.NumPage())
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			pages = append(pages, "")
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to extract plain text from page %d: %w", i, err)
		}
		pages = append(pages, text)
	}
	return pages, nil
}

// pageElements tags running headers and footers and classifies the rest of
// each page into headings and body paragraphs
func pageElements(pages []string) []models.RawElement {
	lines := make([][]string, len(pages))
	for i, page := range pages {
		lines[i] = strings.Split(strings.ReplaceAll(page, "\r\n", "\n"), "\n")
	}
	repeated := repeatedEdgeLines(lines)

	var elements []models.RawElement
	for i, pageLines := range lines {
		pageNum := i + 1
		start, end := trimBlank(pageLines)
		if start >= end {
			continue
		}

		headerEnd := start
		for j := start; j < min(start+furnitureLines, end); j++ {
			if isFurniture(pageLines[j], repeated) {
				elements = append(elements, models.RawElement{
					Text: strings.TrimSpace(pageLines[j]), Category: models.CategoryHeader, Page: pageNum,
				})
				headerEnd = j + 1
				continue
			}
			break
		}

		footerStart := end
		for j := end - 1; j >= max(headerEnd, end-furnitureLines); j-- {
			if !isFurniture(pageLines[j], repeated) {
				break
			}
			footerStart = j
		}

		body := strings.Join(pageLines[headerEnd:footerStart], "\n")
		for _, para := range splitParagraphs(body) {
			elements = append(elements, splitHeadingLines(para, pageNum)...)
		}

		for j := footerStart; j < end; j++ {
			if strings.TrimSpace(pageLines[j]) == "" {
				continue
			}
			elements = append(elements, models.RawElement{
				Text: strings.TrimSpace(pageLines[j]), Category: models.CategoryFooter, Page: pageNum,
			})
		}
	}
	return elements
}

// repeatedEdgeLines finds short lines that recur at the top or bottom of at
// least half the pages, with digits masked so "Page 3" matches "Page 4"
func repeatedEdgeLines(pages [][]string) map[string]bool {
	counts := map[string]int{}
	nonEmpty := 0
	for _, lines := range pages {
		start, end := trimBlank(lines)
		if start >= end {
			continue
		}
		nonEmpty++
		seen := map[string]bool{}
		for j := start; j < min(start+furnitureLines, end); j++ {
			seen[edgeKey(lines[j])] = true
		}
		for j := max(start, end-furnitureLines); j < end; j++ {
			seen[edgeKey(lines[j])] = true
		}
		for k := range seen {
			counts[k]++
		}
	}

	repeated := map[string]bool{}
	if nonEmpty < 2 {
		return repeated
	}
	for k, n := range counts {
		if k != "" && n >= 2 && n*2 >= nonEmpty {
			repeated[k] = true
		}
	}
	return repeated
}

func isFurniture(line string, repeated map[string]bool) bool {
	t := strings.TrimSpace(line)
	if t == "" || len([]rune(t)) > maxFurnitureRunes || bareClausePattern.MatchString(t) {
		return false
	}
	return pageLabelPattern.MatchString(t) || strings.Contains(t, "©") || repeated[edgeKey(t)]
}

func edgeKey(line string) string {
	t := strings.TrimSpace(line)
	if len([]rune(t)) > maxFurnitureRunes || bareClausePattern.MatchString(t) {
		return ""
	}
	return strings.ToLower(digitsPattern.ReplaceAllString(t, "#"))
}

func trimBlank(lines []string) (int, int) {
	start, end := 0, len(lines)
	for start < end && strings.TrimSpace(lines[start]) == "" {
		start++
	}
	for end > start && strings.TrimSpace(lines[end-1]) == "" {
		end--
	}
	return start, end
}
