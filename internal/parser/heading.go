package parser

import (
	"regexp"
	"strings"
	"unicode"

	"docqa-rag/internal/models"
)

var (
	// "8.3" on its own line
	bareClausePattern = regexp.MustCompile(`^\d+(\.\d+)+$`)
	// "8.3 Access control" or "5) Scope"
	numberedHeadingPattern = regexp.MustCompile(`^(\d+(?:\.\d+)*)[.)]?\s+(\S.*)$`)
)

const maxHeadingRunes = 80

// classify splits a paragraph of plain text into typed elements. A clause
// numbered heading becomes two Heading elements so the number can act as a
// prefix for the title that follows it.
func classify(paragraph string, page int) []models.RawElement {
	text := strings.TrimSpace(paragraph)
	if text == "" {
		return nil
	}
	if strings.Contains(text, "\n") {
		return []models.RawElement{{Text: text, Category: models.CategoryBody, Page: page}}
	}

	if bareClausePattern.MatchString(text) {
		return []models.RawElement{{Text: text, Category: models.CategoryHeading, Page: page}}
	}
	if m := numberedHeadingPattern.FindStringSubmatch(text); m != nil && isShortTitle(m[2]) {
		elems := []models.RawElement{}
		if strings.Contains(m[1], ".") {
			elems = append(elems, models.RawElement{Text: m[1], Category: models.CategoryHeading, Page: page})
			elems = append(elems, models.RawElement{Text: m[2], Category: models.CategoryHeading, Page: page})
			return elems
		}
		return []models.RawElement{{Text: text, Category: models.CategoryHeading, Page: page}}
	}
	if isUpperHeading(text) {
		return []models.RawElement{{Text: text, Category: models.CategoryHeading, Page: page}}
	}
	return []models.RawElement{{Text: text, Category: models.CategoryBody, Page: page}}
}

// isShortTitle reports whether s reads like a heading title rather than a
// numbered sentence
func isShortTitle(s string) bool {
	s = strings.TrimSpace(s)
	if len([]rune(s)) > maxHeadingRunes {
		return false
	}
	if strings.HasSuffix(s, ".") || strings.HasSuffix(s, ",") || strings.HasSuffix(s, ";") {
		return false
	}
	first, _ := firstRune(s)
	return unicode.IsUpper(first)
}

// isUpperHeading treats short, mostly upper-case lines as headings
func isUpperHeading(s string) bool {
	if len([]rune(s)) > maxHeadingRunes {
		return false
	}
	letters, upper := 0, 0
	for _, r := range s {
		if unicode.IsLetter(r) {
			letters++
			if unicode.IsUpper(r) {
				upper++
			}
		}
	}
	return letters >= 3 && float64(upper) >= 0.6*float64(letters)
}

func firstRune(s string) (rune, bool) {
	for _, r := range s {
		return r, true
	}
	return 0, false
}

// splitParagraphs splits text on blank lines, keeping single newlines inside
// a paragraph
func splitParagraphs(text string) []string {
	var paragraphs []string
	var current []string
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			if len(current) > 0 {
				paragraphs = append(paragraphs, strings.Join(current, "\n"))
				current = current[:0]
			}
			continue
		}
		current = append(current, strings.TrimRight(line, " \t\r"))
	}
	if len(current) > 0 {
		paragraphs = append(paragraphs, strings.Join(current, "\n"))
	}
	return paragraphs
}

// splitHeadingLines pulls single-line headings out of a multi-line paragraph,
// since extracted PDF text rarely separates a heading from its body with a
// blank line
func splitHeadingLines(paragraph string, page int) []models.RawElement {
	var out []models.RawElement
	var body []string
	flush := func() {
		if len(body) > 0 {
			out = append(out, classify(strings.Join(body, "\n"), page)...)
			body = body[:0]
		}
	}
	for _, line := range strings.Split(paragraph, "\n") {
		elems := classify(line, page)
		if len(elems) > 0 && elems[0].Category.IsHeading() {
			flush()
			out = append(out, elems...)
			continue
		}
		body = append(body, line)
	}
	flush()
	return out
}
