package parser

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// MarkdownParser builds a nested section tree from ATX headings. Fenced code
// blocks are kept intact and never mistaken for headings.
type MarkdownParser struct{}

func (p *MarkdownParser) SupportedFormats() []string { return []string{"md", "markdown"} }

var atxHeadingRe = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)

func (p *MarkdownParser) Parse(ctx context.Context, path string) (*ParseResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading markdown file: %w", err)
	}

	content, err := decodeText(data)
	if err != nil {
		return nil, fmt.Errorf("decoding markdown file: %w", err)
	}

	return &ParseResult{
		Sections: parseMarkdown(content),
		Method:   "native",
	}, nil
}

func parseMarkdown(content string) []Section {
	lines := strings.Split(content, "\n")

	var root []Section
	// stack holds pointers into the tree, one per open heading level
	var stack []*Section
	var buf strings.Builder
	inFence := false

	flush := func() {
		text := strings.TrimSpace(buf.String())
		buf.Reset()
		if text == "" {
			return
		}
		if len(stack) == 0 {
			root = append(root, Section{Content: text, Type: paragraphType(text)})
			return
		}
		top := stack[len(stack)-1]
		if top.Content == "" {
			top.Content = text
		} else {
			top.Content += "\n\n" + text
		}
	}

	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inFence = !inFence
			buf.WriteString(line)
			buf.WriteString("\n")
			continue
		}
		if inFence {
			buf.WriteString(line)
			buf.WriteString("\n")
			continue
		}

		m := atxHeadingRe.FindStringSubmatch(line)
		if m == nil {
			buf.WriteString(line)
			buf.WriteString("\n")
			continue
		}

		flush()
		level := len(m[1])
		sec := Section{
			Heading: strings.TrimSpace(m[2]),
			Level:   level,
			Type:    "section",
		}

		// Pop until the top of the stack is a shallower heading
		for len(stack) > 0 && stack[len(stack)-1].Level >= level {
			stack = stack[:len(stack)-1]
		}
		if len(stack) == 0 {
			root = append(root, sec)
			stack = append(stack, &root[len(root)-1])
		} else {
			parent := stack[len(stack)-1]
			parent.Children = append(parent.Children, sec)
			stack = append(stack, &parent.Children[len(parent.Children)-1])
		}
	}
	flush()

	return root
}

func paragraphType(text string) string {
	if strings.HasPrefix(text, "```") {
		return "code"
	}
	if strings.Count(text, "|") > 3 {
		return "table"
	}
	return "paragraph"
}
