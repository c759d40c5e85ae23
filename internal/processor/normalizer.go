package processor

import (
	"context"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"docqa-rag/internal/logging"
	"docqa-rag/internal/models"

	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"
)

const (
	DefaultMinLength     = 20
	DefaultMinAlnumRatio = 0.3
)

var (
	pageNumberRe  = regexp.MustCompile(`(?i)^(page\s*)?\d{1,4}$`)
	punctRunRe    = regexp.MustCompile(`\pP{3,}`)
	hyphenBreakRe = regexp.MustCompile(`(\w)-\n([a-z])`)
	spaceRunRe    = regexp.MustCompile(`[ \t]+`)
	lineEdgeRe    = regexp.MustCompile(`[ \t]*\n[ \t]*`)
	blankRunRe    = regexp.MustCompile(`\n{3,}`)
)

// Normalizer filters raw parser elements into clean units
type Normalizer struct {
	// MinLength is the rune count a cleaned unit needs to survive
	MinLength int
	// MinAlnumRatio drops lines whose letters and digits make up less than
	// this share of their runes
	MinAlnumRatio float64
	// KeepShortHeadings exempts Title and Heading units from MinLength so
	// bare clause numbers such as "8.3" reach the sectioner
	KeepShortHeadings bool
}

// NewNormalizer creates a normalizer, using defaults for zero values
func NewNormalizer(minLength int, minAlnumRatio float64) *Normalizer {
	if minLength <= 0 {
		minLength = DefaultMinLength
	}
	if minAlnumRatio <= 0 {
		minAlnumRatio = DefaultMinAlnumRatio
	}
	return &Normalizer{MinLength: minLength, MinAlnumRatio: minAlnumRatio}
}

// Normalize maps elements to cleaned units, dropping page furniture, bare page
// numbers and anything too short once cleaned. It never fails.
func (n *Normalizer) Normalize(ctx context.Context, elements []models.RawElement) []models.CleanedUnit {
	logger := logging.FromContext(ctx)

	units := make([]models.CleanedUnit, 0, len(elements))
	var furniture, pageNumbers, short int
	for _, el := range elements {
		text := strings.TrimSpace(norm.NFKC.String(el.Text))
		if text == "" {
			short++
			continue
		}
		if el.Category.IsPageFurniture() {
			furniture++
			continue
		}
		if pageNumberRe.MatchString(text) {
			pageNumbers++
			continue
		}

		text = n.CleanText(text)
		if text == "" || utf8.RuneCountInString(text) < n.MinLength && !(n.KeepShortHeadings && el.Category.IsHeading()) {
			short++
			continue
		}
		units = append(units, models.CleanedUnit{Text: text, Category: el.Category, Page: el.Page})
	}

	logger.Debug("normalized elements",
		zap.Int("in", len(elements)),
		zap.Int("out", len(units)),
		zap.Int("furniture", furniture),
		zap.Int("page_numbers", pageNumbers),
		zap.Int("short", short),
	)
	return units
}

// CleanText applies the line filter, hyphenation repair and whitespace
// normalization to a single element's text
func (n *Normalizer) CleanText(text string) string {
	lines := strings.Split(text, "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			kept = append(kept, "")
			continue
		}
		if alnumRatio(line) < n.MinAlnumRatio {
			continue
		}
		line = collapseRepeatedPunct(line)
		line = punctRunRe.ReplaceAllString(line, " ")
		kept = append(kept, strings.TrimSpace(line))
	}

	text = strings.Join(kept, "\n")
	for hyphenBreakRe.MatchString(text) {
		text = hyphenBreakRe.ReplaceAllString(text, "$1$2")
	}
	text = spaceRunRe.ReplaceAllString(text, " ")
	text = lineEdgeRe.ReplaceAllString(text, "\n")
	text = blankRunRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

func alnumRatio(line string) float64 {
	total, alnum := 0, 0
	for _, r := range line {
		total++
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			alnum++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(alnum) / float64(total)
}

// collapseRepeatedPunct turns a run of three or more of the same punctuation
// rune into one, so "!!!" becomes "!" and "..." becomes "."
func collapseRepeatedPunct(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	runes := []rune(s)
	for i := 0; i < len(runes); {
		r := runes[i]
		j := i + 1
		for j < len(runes) && runes[j] == r {
			j++
		}
		if unicode.IsPunct(r) && j-i >= 3 {
			b.WriteRune(r)
		} else {
			for k := i; k < j; k++ {
				b.WriteRune(r)
			}
		}
		i = j
	}
	return b.String()
}
