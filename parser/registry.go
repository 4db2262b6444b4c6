package parser

import (
	"fmt"
	"path/filepath"
	"strings"
)

type Registry struct {
	parsers map[string]Parser
}

func NewRegistry() *Registry {
	r := &Registry{parsers: make(map[string]Parser)}
	for _, p := range []Parser{
		&PDFParser{},
		&DOCXParser{},
		&XLSXParser{},
		&MarkdownParser{},
		&TextParser{},
	} {
		for _, f := range p.SupportedFormats() {
			r.parsers[f] = p
		}
	}
	return r
}

func (r *Registry) Get(format string) (Parser, error) {
	p, ok := r.parsers[strings.ToLower(format)]
	if !ok {
		return nil, fmt.Errorf("no parser for format: %s", format)
	}
	return p, nil
}

// ForPath resolves a parser from a file path's extension.
func (r *Registry) ForPath(path string) (Parser, error) {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	return r.Get(ext)
}

func (r *Registry) Register(format string, p Parser) {
	r.parsers[strings.ToLower(format)] = p
}
