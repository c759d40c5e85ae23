package parser

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"docqa-rag/internal/models"
	"docqa-rag/internal/ragerr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestForFileUnsupportedExtension(t *testing.T) {
	_, err := ForFile("/data/report.xyz")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ragerr.DocumentLoad))
	assert.Contains(t, err.Error(), ".xyz")
}

func TestListFilesSkipsUnsupportedInDirectory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "b.txt", "beta")
	writeFile(t, dir, "a.md", "# alpha")
	writeFile(t, dir, "notes.xyz", "ignored")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested"), 0o755))

	files, err := ListFiles(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.md"), filepath.Join(dir, "b.txt")}, files)

	_, err = ListFiles(filepath.Join(dir, "missing"))
	assert.True(t, errors.Is(err, ragerr.DocumentLoad))
}

func TestLoadSingleUnsupportedFile(t *testing.T) {
	path := writeFile(t, t.TempDir(), "data.xyz", "x")
	_, err := Load(context.Background(), path)
	assert.True(t, errors.Is(err, ragerr.DocumentLoad))
}

func TestTextParserSplitsClauseHeadings(t *testing.T) {
	path := writeFile(t, t.TempDir(), "iso.txt", `8.3 Access control

Access to information shall be restricted
in accordance with the access control policy.

ANNEX A
`)
	elements, err := (&TextParser{}).Parse(context.Background(), path)
	require.NoError(t, err)

	require.Len(t, elements, 4)
	assert.Equal(t, models.RawElement{Text: "8.3", Category: models.CategoryHeading}, elements[0])
	assert.Equal(t, models.RawElement{Text: "Access control", Category: models.CategoryHeading}, elements[1])
	assert.Equal(t, models.CategoryBody, elements[2].Category)
	assert.Contains(t, elements[2].Text, "\n")
	assert.Equal(t, models.CategoryHeading, elements[3].Category)
}

func TestMarkdownParser(t *testing.T) {
	path := writeFile(t, t.TempDir(), "doc.md", `# Handbook

Intro text with *emphasis*.

## Scope

- first item
- second item
`)
	elements, err := (&MarkdownParser{}).Parse(context.Background(), path)
	require.NoError(t, err)

	require.Len(t, elements, 4)
	assert.Equal(t, models.RawElement{Text: "Handbook", Category: models.CategoryTitle}, elements[0])
	assert.Equal(t, "Intro text with emphasis.", elements[1].Text)
	assert.Equal(t, models.RawElement{Text: "Scope", Category: models.CategoryHeading}, elements[2])
	assert.Equal(t, "first item\nsecond item", elements[3].Text)
}

func TestHTMLParser(t *testing.T) {
	path := writeFile(t, t.TempDir(), "page.html", `<html><head><title>Policy</title></head>
<body>
<header>Company Confidential</header>
<h2>Purpose</h2>
<p>This policy defines access rules.</p>
<script>var x = 1;</script>
<footer>Page 1</footer>
</body></html>`)
	elements, err := (&HTMLParser{}).Parse(context.Background(), path)
	require.NoError(t, err)

	cats := make([]models.Category, 0, len(elements))
	for _, e := range elements {
		cats = append(cats, e.Category)
	}
	assert.Equal(t, []models.Category{
		models.CategoryTitle,
		models.CategoryHeader,
		models.CategoryHeading,
		models.CategoryBody,
		models.CategoryFooter,
	}, cats)
}

func TestPageElementsTagsRunningText(t *testing.T) {
	pages := []string{
		"ISO/IEC 27001:2022\nIntroduction\nThe organization shall establish an ISMS.\nPage 1",
		"ISO/IEC 27001:2022\nThe organization shall determine scope.\n\n5.2\nPolicy\nTop management shall establish a policy.\nPage 2",
	}
	elements := pageElements(pages)

	var headers, footers []models.RawElement
	for _, e := range elements {
		switch e.Category {
		case models.CategoryHeader:
			headers = append(headers, e)
		case models.CategoryFooter:
			footers = append(footers, e)
		}
	}
	require.Len(t, headers, 2)
	require.Len(t, footers, 2)
	assert.Equal(t, 2, footers[1].Page)

	var clause bool
	for _, e := range elements {
		if e.Text == "5.2" {
			clause = true
			assert.Equal(t, models.CategoryHeading, e.Category)
			assert.Equal(t, 2, e.Page)
		}
	}
	assert.True(t, clause)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		in   string
		want []models.Category
	}{
		{"8.3.2", []models.Category{models.CategoryHeading}},
		{"8.3 Access control", []models.Category{models.CategoryHeading, models.CategoryHeading}},
		{"4 Context of the organization", []models.Category{models.CategoryHeading}},
		{"3 controls were reviewed during the audit.", []models.Category{models.CategoryBody}},
		{"INFORMATION SECURITY POLICY", []models.Category{models.CategoryHeading}},
		{"Information shall be classified.", []models.Category{models.CategoryBody}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := classify(tt.in, 1)
			cats := make([]models.Category, 0, len(got))
			for _, e := range got {
				cats = append(cats, e.Category)
			}
			assert.Equal(t, tt.want, cats)
		})
	}
}
