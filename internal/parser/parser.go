// Package parser turns source files into typed text elements.
package parser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"docqa-rag/internal/models"
	"docqa-rag/internal/ragerr"
)

// Parser converts a file into a stream of typed elements
type Parser interface {
	Parse(ctx context.Context, path string) ([]models.RawElement, error)
}

// SupportedExtensions lists file extensions this package can handle
var SupportedExtensions = map[string]bool{
	".pdf":      true,
	".txt":      true,
	".md":       true,
	".markdown": true,
	".docx":     true,
	".html":     true,
	".htm":      true,
}

// Document is one parsed source file
type Document struct {
	Path     string
	Elements []models.RawElement
}

// ForFile returns the appropriate parser for a filename
func ForFile(path string) (Parser, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".pdf":
		return &PDFParser{}, nil
	case ".txt":
		return &TextParser{}, nil
	case ".md", ".markdown":
		return &MarkdownParser{}, nil
	case ".docx":
		return &DOCXParser{}, nil
	case ".html", ".htm":
		return &HTMLParser{}, nil
	default:
		return nil, ragerr.WithPath(ragerr.DocumentLoad, path, fmt.Errorf("unsupported file extension: %q", ext))
	}
}

// IsSupportedExtension checks if a file extension is supported
func IsSupportedExtension(path string) bool {
	return SupportedExtensions[strings.ToLower(filepath.Ext(path))]
}

// ListFiles expands path into the files to load. A directory is expanded
// non-recursively in name order and unsupported files inside it are skipped.
// A single file is returned as is, so an unsupported extension fails later
// with a DocumentLoad error naming it.
func ListFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, ragerr.WithPath(ragerr.DocumentLoad, path, err)
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, ragerr.WithPath(ragerr.DocumentLoad, path, err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !IsSupportedExtension(e.Name()) {
			continue
		}
		files = append(files, filepath.Join(path, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

// Load parses a single file with the parser registered for its extension
func Load(ctx context.Context, path string) (Document, error) {
	p, err := ForFile(path)
	if err != nil {
		return Document{}, err
	}
	elements, err := p.Parse(ctx, path)
	if err != nil {
		if ragerr.IsRAGError(err) {
			return Document{}, err
		}
		return Document{}, ragerr.WithPath(ragerr.DocumentLoad, path, err)
	}
	return Document{Path: path, Elements: elements}, nil
}
