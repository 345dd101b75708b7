// Package extract converts uploaded documents into text, one entry per page where
// the format has page structure (PDF pages, sheets, slides).
package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Document is the result of converting one file.
type Document struct {
	// Markdown is the whole document as text. Pages joined by blank lines when paged.
	Markdown string
	// Pages holds per-page text; nil when the format has no page structure.
	// Empty pages are kept so page numbers stay aligned with the source.
	Pages []string
}

// Converter turns a file on disk into a Document.
type Converter interface {
	Convert(path string) (*Document, error)
}

// Extractor is the local Converter for office, PDF and plain text formats.
type Extractor struct{}

// NewExtractor returns a new Extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Convert reads the file at path and extracts its text based on the extension.
// Unknown extensions are read as plain text.
func (e *Extractor) Convert(path string) (*Document, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".rtf" {
		text, err := extractRTF(path)
		if err != nil {
			return nil, err
		}
		return wholeDocument(text), nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	switch ext {
	case ".pdf":
		return paged(extractPDF(content))
	case ".xlsx":
		return paged(extractExcel(content))
	case ".pptx":
		return paged(extractPPTX(content))
	case ".odp":
		return paged(extractODP(content))
	case ".ods":
		return paged(extractODS(content))
	case ".docx":
		return whole(extractDOCX(content))
	case ".odt":
		return whole(extractODT(content))
	default:
		return whole(extractPlain(content))
	}
}

func paged(pages []string, err error) (*Document, error) {
	if err != nil {
		return nil, err
	}
	return &Document{Markdown: strings.Join(pages, "\n\n"), Pages: pages}, nil
}

func whole(text string, err error) (*Document, error) {
	if err != nil {
		return nil, err
	}
	return wholeDocument(text), nil
}

func wholeDocument(text string) *Document {
	return &Document{Markdown: strings.TrimSpace(text)}
}
