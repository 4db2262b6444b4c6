package parser

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/ledongthuc/pdf"
)

type PDFParser struct{}

func (p *PDFParser) SupportedFormats() []string { return []string{"pdf"} }

func (p *PDFParser) Parse(ctx context.Context, path string) (*ParseResult, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer f.Close()

	totalPages := reader.NumPage()
	sections := make([]Section, 0)

	for i := 1; i <= totalPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			// Skip pages that fail to extract
			continue
		}

		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}

		pageSections := splitPageIntoSections(text, i)
		sections = append(sections, pageSections...)
	}

	if len(sections) == 0 {
		return &ParseResult{
			Method: "native",
			Sections: []Section{{
				Content:    "Unable to extract text from PDF",
				Type:       "paragraph",
				PageNumber: 1,
			}},
		}, nil
	}

	return &ParseResult{
		Sections: sections,
		Method:   "native",
	}, nil
}

// splitPageIntoSections breaks page text into logical sections by detecting
// heading lines.
func splitPageIntoSections(text string, pageNum int) []Section {
	lines := strings.Split(text, "\n")
	var sections []Section
	var currentContent strings.Builder
	var currentHeading string
	currentLevel := 0

	flush := func() {
		if currentContent.Len() == 0 {
			return
		}
		content := strings.TrimSpace(currentContent.String())
		sections = append(sections, Section{
			Heading:    currentHeading,
			Content:    content,
			Level:      currentLevel,
			PageNumber: pageNum,
			Type:       classifySectionType(content),
		})
		currentContent.Reset()
	}

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			if currentContent.Len() > 0 {
				currentContent.WriteString("\n")
			}
			continue
		}

		if isLikelyHeading(trimmed) {
			flush()
			currentHeading = trimmed
			currentLevel = detectHeadingLevel(trimmed)
		} else {
			if currentContent.Len() > 0 {
				currentContent.WriteString("\n")
			}
			currentContent.WriteString(trimmed)
		}
	}
	flush()

	// Heading with no body
	if len(sections) == 0 && currentHeading != "" {
		sections = append(sections, Section{
			Heading:    currentHeading,
			Level:      currentLevel,
			PageNumber: pageNum,
			Type:       "section",
		})
	}

	if len(sections) == 0 && strings.TrimSpace(text) != "" {
		sections = append(sections, Section{
			Content:    text,
			PageNumber: pageNum,
			Type:       "paragraph",
		})
	}

	return sections
}

// cjkEnumPrefixes start Chinese enumeration headings: 一、 二、 and so on.
var cjkEnumPrefixes = []string{
	"一、", "二、", "三、", "四、", "五、", "六、", "七、", "八、", "九、", "十、",
	"（一）", "（二）", "（三）", "（四）", "（五）", "（六）", "（七）", "（八）", "（九）", "（十）",
}

func isLikelyHeading(line string) bool {
	runes := []rune(line)
	if len(runes) == 0 || len(runes) > 60 {
		return false
	}

	// Chapter/section markers: 第一章, 第3节, 第十二条
	if strings.HasPrefix(line, "第") {
		for _, marker := range []string{"章", "节", "篇", "条", "部分"} {
			if idx := strings.Index(line, marker); idx > 0 && idx < 20 {
				return true
			}
		}
	}

	// Chinese enumeration: 一、 （二）
	for _, prefix := range cjkEnumPrefixes {
		if strings.HasPrefix(line, prefix) {
			return true
		}
	}

	// Numbered section like "1", "1.2", "3.9.1" followed by a space or CJK
	// text. Plain numbers over two digits are more likely years or measures.
	if runes[0] >= '0' && runes[0] <= '9' {
		i := 0
		digits := 0
		hasDot := false
		for i < len(runes) && (unicode.IsDigit(runes[i]) || runes[i] == '.') {
			if runes[i] == '.' {
				hasDot = true
			} else {
				digits++
			}
			i++
		}
		if i < len(runes) && (runes[i] == ' ' || runes[i] == '、' || unicode.Is(unicode.Han, runes[i])) {
			if hasDot || digits <= 2 {
				return true
			}
		}
	}

	// All caps and short, for English material mixed in
	if line == strings.ToUpper(line) && line != strings.ToLower(line) && len(runes) > 2 {
		return true
	}

	return false
}

func detectHeadingLevel(heading string) int {
	if strings.HasPrefix(heading, "第") {
		if strings.Contains(heading[:min(len(heading), 24)], "章") {
			return 1
		}
		return 2
	}
	for _, prefix := range cjkEnumPrefixes {
		if strings.HasPrefix(heading, prefix) {
			if strings.HasPrefix(prefix, "（") {
				return 3
			}
			return 2
		}
	}
	// Count dots in numbering to determine depth
	parts := strings.SplitN(heading, " ", 2)
	if len(parts) > 0 {
		dots := strings.Count(strings.TrimRight(parts[0], "."), ".")
		if dots > 0 {
			return dots + 1
		}
		if parts[0] != "" && parts[0][0] >= '0' && parts[0][0] <= '9' {
			return 1
		}
	}
	return 2
}

func classifySectionType(content string) string {
	// Tabs or pipes indicate actual table formatting
	if strings.Count(content, "\t") > 3 || strings.Count(content, "|") > 3 {
		return "table"
	}
	return "section"
}
