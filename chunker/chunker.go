// Package chunker splits cleaned document text into overlapping chunks
// sized for LLM extraction.
package chunker

import (
	"regexp"
	"strings"

	"github.com/shawnsang/auto-openspg-schema/parser"
)

// Config controls the chunking behaviour. Sizes are in runes, not bytes,
// so Chinese text is measured the same as ASCII.
type Config struct {
	ChunkSize int // Maximum runes per chunk.
	Overlap   int // Runes shared between consecutive chunks.
}

// Chunker converts document text into extraction-ready chunks.
type Chunker struct {
	cfg Config
}

// New returns a Chunker with the given configuration.
// Zero-value fields are replaced with sensible defaults.
func New(cfg Config) *Chunker {
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = 1500
	}
	if cfg.Overlap == 0 {
		cfg.Overlap = 200
	}
	if cfg.Overlap >= cfg.ChunkSize {
		cfg.Overlap = cfg.ChunkSize / 4
	}
	return &Chunker{cfg: cfg}
}

var (
	whitespaceRe = regexp.MustCompile(`\s+`)
	// Keeps CJK text and punctuation, word characters, and basic ASCII
	// punctuation. Everything else is extraction noise from PDF and OCR
	// artifacts.
	noiseRe = regexp.MustCompile(`[^\p{Han}\w\s.,;:!?()\[\]{}"'%/、。，；：！？（）【】《》“”‘’-]`)
)

// CleanText normalises raw document text before chunking: whitespace runs
// collapse to a single space and characters outside the allowed set are
// dropped.
func CleanText(text string) string {
	text = whitespaceRe.ReplaceAllString(text, " ")
	text = noiseRe.ReplaceAllString(text, " ")
	text = whitespaceRe.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// SplitSections flattens parsed sections, cleans the text and splits it
// into chunks.
func (c *Chunker) SplitSections(sections []parser.Section) []string {
	return c.Split(CleanText(parser.PlainText(sections)))
}

// Split breaks text into chunks of at most ChunkSize runes. Each boundary
// prefers a sentence or clause separator in the last 30% of the window;
// when none exists the chunk is cut at the size limit. Consecutive chunks
// overlap by Overlap runes.
func (c *Chunker) Split(text string) []string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) == 0 {
		return nil
	}
	if len(runes) <= c.cfg.ChunkSize {
		return []string{string(runes)}
	}

	var chunks []string
	start := 0
	for start < len(runes) {
		end := start + c.cfg.ChunkSize
		if end >= len(runes) {
			chunks = append(chunks, string(runes[start:]))
			break
		}

		actualEnd := end
		if split := bestSplitPoint(runes[start:end]); split > 0 {
			actualEnd = start + split
		}
		chunks = append(chunks, string(runes[start:actualEnd]))

		next := actualEnd - c.cfg.Overlap
		if next <= start {
			next = actualEnd
		}
		start = next
	}

	out := chunks[:0]
	for _, chunk := range chunks {
		chunk = strings.TrimSpace(chunk)
		if chunk != "" {
			out = append(out, chunk)
		}
	}
	return out
}

// splitRunes in priority order: sentence enders first, then clause
// separators, then plain spaces.
var splitRunes = []rune{'.', '。', '\n', '!', '！', '?', '？', ';', '；', ',', '，', ' '}

// bestSplitPoint returns the rune index just after the best separator in
// window, or 0 when no separator lands in the last 30%.
func bestSplitPoint(window []rune) int {
	minPos := int(float64(len(window)) * 0.7)
	for _, sep := range splitRunes {
		for i := len(window) - 1; i > minPos; i-- {
			if window[i] == sep {
				return i + 1
			}
		}
	}
	return 0
}
