package service

import (
	"strings"

	"github.com/readstack/librarian/internal/domain"
)

const blockSeparator = "\n\n"

// AssembledContext is the packed excerpt text handed to the answer
// generator, with an aggregate confidence over the included excerpts.
type AssembledContext struct {
	Text       string
	Included   []domain.Excerpt
	Confidence float64
}

// AssembleContext walks excerpts in rank order and packs labeled blocks
// into a context string of at most maxChars runes. A block that would
// not fit is skipped whole, never truncated, and later shorter blocks
// may still be included. Confidence is the mean relevance of what made
// it in, 0.0 when nothing did.
func AssembleContext(excerpts []domain.Excerpt, maxChars int) AssembledContext {
	var b strings.Builder
	var included []domain.Excerpt
	total := 0
	scoreSum := 0.0

	for _, e := range excerpts {
		block := "[From " + e.Filename + "]\n" + e.Content
		blockLen := len([]rune(block))

		sepLen := 0
		if len(included) > 0 {
			sepLen = len(blockSeparator)
		}

		if total+sepLen+blockLen > maxChars {
			continue
		}

		if len(included) > 0 {
			b.WriteString(blockSeparator)
		}
		b.WriteString(block)
		total += sepLen + blockLen
		scoreSum += e.Relevance
		included = append(included, e)
	}

	confidence := 0.0
	if len(included) > 0 {
		confidence = scoreSum / float64(len(included))
	}

	return AssembledContext{
		Text:       b.String(),
		Included:   included,
		Confidence: confidence,
	}
}
