// Package parser extracts structured text from the document formats the
// engine ingests: PDF, DOCX, Markdown, XLSX and plain text.
package parser

import (
	"context"
	"strings"
)

// ParseResult is what a parser produces from a document file.
type ParseResult struct {
	Sections []Section // Ordered sections extracted from the document
	Method   string    // "native"
	Metadata map[string]string
}

// Section represents a logical section of a parsed document.
type Section struct {
	Heading    string
	Content    string
	Level      int // Heading level (1=top, 2=sub, etc.)
	PageNumber int
	Type       string // "section", "table", "paragraph", "code"
	Children   []Section
}

// Parser can parse a specific document format.
type Parser interface {
	Parse(ctx context.Context, path string) (*ParseResult, error)
	SupportedFormats() []string
}

// PlainText flattens sections into one text stream, headings included, in
// document order. Chunking and extraction operate on this flat view.
func PlainText(sections []Section) string {
	var b strings.Builder
	var walk func(secs []Section)
	walk = func(secs []Section) {
		for _, sec := range secs {
			if sec.Heading != "" {
				b.WriteString(sec.Heading)
				b.WriteString("\n")
			}
			if sec.Content != "" {
				b.WriteString(sec.Content)
				b.WriteString("\n\n")
			}
			walk(sec.Children)
		}
	}
	walk(sections)
	return strings.TrimSpace(b.String())
}
