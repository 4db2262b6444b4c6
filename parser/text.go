package parser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"unicode/utf8"

	"golang.org/x/text/encoding/simplifiedchinese"
)

// TextParser handles plain text (.txt) files. Engineering documents from
// Chinese sources are often GBK-encoded, so invalid UTF-8 falls back to a
// GBK decode before giving up.
type TextParser struct{}

func (p *TextParser) SupportedFormats() []string { return []string{"txt"} }

func (p *TextParser) Parse(ctx context.Context, path string) (*ParseResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading text file: %w", err)
	}

	content, err := decodeText(data)
	if err != nil {
		return nil, fmt.Errorf("decoding text file: %w", err)
	}
	if content == "" {
		return &ParseResult{Method: "native"}, nil
	}

	return &ParseResult{
		Sections: []Section{
			{
				Heading: filepath.Base(path),
				Content: content,
				Level:   1,
				Type:    "paragraph",
			},
		},
		Method: "native",
	}, nil
}

// decodeText returns the file content as UTF-8, trying GBK when the raw
// bytes are not valid UTF-8.
func decodeText(data []byte) (string, error) {
	if utf8.Valid(data) {
		return string(data), nil
	}
	decoded, err := simplifiedchinese.GBK.NewDecoder().Bytes(data)
	if err != nil {
		return "", fmt.Errorf("not utf-8 and gbk decode failed: %w", err)
	}
	return string(decoded), nil
}
