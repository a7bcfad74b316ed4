package chunker

import (
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/TKontu/knowledge-extraction-sub001/internal/models"
)

// charsPerToken is the estimation ratio used for budget checks.
const charsPerToken = 4

// Chunker splits markdown documents into bounded-token chunks along heading
// boundaries, carrying the enclosing heading breadcrumb into each chunk.
type Chunker struct {
	tokenBudget int
	logger      arbor.ILogger
}

// NewChunker creates a Chunker with the given per-chunk token budget.
func NewChunker(tokenBudget int, logger arbor.ILogger) *Chunker {
	if tokenBudget <= 0 {
		tokenBudget = 8000
	}
	return &Chunker{
		tokenBudget: tokenBudget,
		logger:      logger,
	}
}

// EstimateTokens approximates the token count of a text.
func EstimateTokens(text string) int {
	return len(text) / charsPerToken
}

// section is a heading-delimited run of lines.
type section struct {
	headerPath []string
	content    string
}

// Chunk splits a document. A document under budget comes back as a single
// chunk. Chunks never split inside a line and carry ChunkIndex/TotalChunks
// plus the heading path active at their start.
func (c *Chunker) Chunk(content string) []models.DocumentChunk {
	if EstimateTokens(content) <= c.tokenBudget {
		return []models.DocumentChunk{{
			Content:     content,
			ChunkIndex:  0,
			TotalChunks: 1,
			HeaderPath:  nil,
		}}
	}

	sections := splitSections(content)

	budgetChars := c.tokenBudget * charsPerToken
	var chunks []models.DocumentChunk
	var current strings.Builder
	var currentPath []string

	flush := func() {
		if current.Len() == 0 {
			return
		}
		chunks = append(chunks, models.DocumentChunk{
			Content:    current.String(),
			HeaderPath: currentPath,
		})
		current.Reset()
	}

	for _, sec := range sections {
		if current.Len() > 0 && current.Len()+len(sec.content) > budgetChars {
			flush()
		}
		if current.Len() == 0 {
			currentPath = sec.headerPath
		}
		if len(sec.content) > budgetChars {
			// A single oversized section: split along paragraphs, then
			// hard-split any paragraph still over budget.
			flush()
			for _, piece := range splitOversized(sec.content, budgetChars) {
				chunks = append(chunks, models.DocumentChunk{
					Content:    piece,
					HeaderPath: sec.headerPath,
				})
			}
			continue
		}
		current.WriteString(sec.content)
	}
	flush()

	for i := range chunks {
		chunks[i].ChunkIndex = i
		chunks[i].TotalChunks = len(chunks)
	}
	return chunks
}

// splitSections cuts the document at #, ## and ### headings, tracking the
// breadcrumb of enclosing headings. Deeper headings stay inline.
func splitSections(content string) []section {
	lines := strings.SplitAfter(content, "\n")

	var sections []section
	var path []string
	var buf strings.Builder
	bufPath := append([]string(nil), path...)

	flush := func() {
		if buf.Len() == 0 {
			return
		}
		sections = append(sections, section{headerPath: bufPath, content: buf.String()})
		buf.Reset()
	}

	for _, line := range lines {
		level, title := headingLevel(line)
		if level >= 1 && level <= 3 {
			flush()
			// Trim the breadcrumb to the parent level, then descend.
			if level-1 < len(path) {
				path = path[:level-1]
			}
			path = append(path, title)
			bufPath = append([]string(nil), path...)
		}
		buf.WriteString(line)
	}
	flush()
	return sections
}

// headingLevel returns the ATX heading level of a line, 0 for non-headings.
func headingLevel(line string) (int, string) {
	trimmed := strings.TrimRight(line, "\n")
	i := 0
	for i < len(trimmed) && trimmed[i] == '#' {
		i++
	}
	if i == 0 || i > 6 || i >= len(trimmed) || trimmed[i] != ' ' {
		return 0, ""
	}
	return i, strings.TrimSpace(trimmed[i+1:])
}

// splitOversized cuts text at blank-line boundaries first and hard-splits
// at line boundaries when a paragraph alone exceeds the budget.
func splitOversized(text string, budgetChars int) []string {
	paragraphs := strings.SplitAfter(text, "\n\n")

	var pieces []string
	var current strings.Builder
	for _, para := range paragraphs {
		if current.Len() > 0 && current.Len()+len(para) > budgetChars {
			pieces = append(pieces, current.String())
			current.Reset()
		}
		if len(para) > budgetChars {
			if current.Len() > 0 {
				pieces = append(pieces, current.String())
				current.Reset()
			}
			pieces = append(pieces, hardSplit(para, budgetChars)...)
			continue
		}
		current.WriteString(para)
	}
	if current.Len() > 0 {
		pieces = append(pieces, current.String())
	}
	return pieces
}

// hardSplit cuts at line boundaries, splitting mid-line only when a single
// line exceeds the budget.
func hardSplit(text string, budgetChars int) []string {
	lines := strings.SplitAfter(text, "\n")
	var pieces []string
	var current strings.Builder
	for _, line := range lines {
		if current.Len() > 0 && current.Len()+len(line) > budgetChars {
			pieces = append(pieces, current.String())
			current.Reset()
		}
		for len(line) > budgetChars {
			pieces = append(pieces, line[:budgetChars])
			line = line[budgetChars:]
		}
		current.WriteString(line)
	}
	if current.Len() > 0 {
		pieces = append(pieces, current.String())
	}
	return pieces
}
