package processor

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"docqa-rag/internal/logging"
	"docqa-rag/internal/models"

	"go.uber.org/zap"
)

const (
	// PrefaceTitle names content seen before the first heading
	PrefaceTitle = "PREFACE"

	DefaultMinSectionChars = 200
	DefaultWindowChars     = 1200
)

var clauseNumberRe = regexp.MustCompile(`^\d+(\.\d+)+$`)

// IsClauseNumber reports whether text is a bare dotted clause number such as "8.3.2"
func IsClauseNumber(text string) bool {
	return clauseNumberRe.MatchString(strings.TrimSpace(text))
}

// Sectioner groups cleaned units of one document into sections
type Sectioner interface {
	Section(ctx context.Context, doc models.DocumentInfo, units []models.CleanedUnit) []models.Section
}

// sectionBuffer accumulates body paragraphs and pages between flushes
type sectionBuffer struct {
	body  []string
	pages map[int]struct{}
	chars int
}

func (b *sectionBuffer) add(u models.CleanedUnit) {
	if b.pages == nil {
		b.pages = map[int]struct{}{}
	}
	// paragraphs are measured as if joined by a single newline
	if len(b.body) > 0 {
		b.chars++
	}
	b.body = append(b.body, u.Text)
	b.chars += utf8.RuneCountInString(u.Text)
	if u.Page > 0 {
		b.pages[u.Page] = struct{}{}
	}
}

func (b *sectionBuffer) sortedPages() []int {
	pages := make([]int, 0, len(b.pages))
	for p := range b.pages {
		pages = append(pages, p)
	}
	sort.Ints(pages)
	return pages
}

func (b *sectionBuffer) reset() {
	b.body = nil
	b.pages = nil
	b.chars = 0
}

// HeadingSectioner starts a new section at every Title or Heading unit.
//
// With ClauseLookahead a heading that is only a clause number ("8.3") is not a
// boundary. It is held as a pending prefix and attached to the title of the
// next real heading, so "8.3" followed by "Access control" opens a section
// titled "8.3 Access control". Consecutive clause numbers overwrite the
// pending prefix.
//
// A buffer is emitted only when its joined body is longer than MinChars;
// shorter buffers are dropped as noise.
type HeadingSectioner struct {
	MinChars        int
	ClauseLookahead bool
}

func (s *HeadingSectioner) Section(ctx context.Context, doc models.DocumentInfo, units []models.CleanedUnit) []models.Section {
	logger := logging.FromContext(ctx)

	var (
		sections = []models.Section{}
		title    = PrefaceTitle
		clause   string
		pending  string
		buf      sectionBuffer
		dropped  int
	)

	flush := func() {
		if buf.chars > s.MinChars {
			sections = append(sections, models.Section{
				Title:        title,
				ClausePrefix: clause,
				Body:         buf.body,
				Pages:        buf.sortedPages(),
				Document:     doc,
			})
		} else if len(buf.body) > 0 {
			dropped++
			logger.Debug("dropping short section", zap.String("title", title), zap.Int("chars", buf.chars))
		}
		buf.reset()
	}

	for _, u := range units {
		if !u.Category.IsHeading() {
			buf.add(u)
			continue
		}
		if s.ClauseLookahead && IsClauseNumber(u.Text) {
			pending = strings.TrimSpace(u.Text)
			continue
		}

		flush()
		title = u.Text
		clause = ""
		if pending != "" {
			title = pending + " " + u.Text
			clause = pending
			pending = ""
		}
	}
	flush()

	logger.Debug("sectioned document",
		zap.String("doc_id", doc.DocID),
		zap.Int("units", len(units)),
		zap.Int("sections", len(sections)),
		zap.Int("dropped", dropped),
	)
	return sections
}

// WindowSectioner groups documents without usable heading structure into
// fixed size windows. Headings are kept as content and the latest heading seen
// when a window opens names it. A window is emitted once it reaches WindowChars; the trailing
// window is emitted only if it is longer than MinChars.
type WindowSectioner struct {
	WindowChars int
	MinChars    int
}

func (s *WindowSectioner) Section(ctx context.Context, doc models.DocumentInfo, units []models.CleanedUnit) []models.Section {
	logger := logging.FromContext(ctx)

	var (
		sections = []models.Section{}
		latest   = doc.Title
		title    string
		buf      sectionBuffer
	)
	if latest == "" {
		latest = PrefaceTitle
	}

	emit := func() {
		sections = append(sections, models.Section{
			Title:    title,
			Body:     buf.body,
			Pages:    buf.sortedPages(),
			Document: doc,
		})
		buf.reset()
	}

	for _, u := range units {
		if u.Category.IsHeading() {
			latest = u.Text
		}
		if len(buf.body) == 0 {
			title = latest
		}
		buf.add(u)
		if buf.chars >= s.WindowChars {
			emit()
		}
	}
	if buf.chars > s.MinChars {
		emit()
	} else if len(buf.body) > 0 {
		logger.Debug("dropping short trailing window", zap.Int("chars", buf.chars))
	}

	logger.Debug("windowed document",
		zap.String("doc_id", doc.DocID),
		zap.Int("units", len(units)),
		zap.Int("sections", len(sections)),
	)
	return sections
}
