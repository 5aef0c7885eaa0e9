package service

import (
	"strings"
	"testing"

	"github.com/readstack/librarian/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func excerpt(filename, content string, relevance float64) domain.Excerpt {
	return domain.Excerpt{
		DocumentID: "doc-" + filename,
		Filename:   filename,
		Content:    content,
		Relevance:  relevance,
	}
}

func TestAssembleContext_Empty(t *testing.T) {
	result := AssembleContext(nil, 1000)

	assert.Empty(t, result.Text)
	assert.Empty(t, result.Included)
	assert.Equal(t, 0.0, result.Confidence)
}

func TestAssembleContext_SingleBlock(t *testing.T) {
	result := AssembleContext([]domain.Excerpt{
		excerpt("hours.txt", "The library opens at nine.", 0.8),
	}, 1000)

	assert.Equal(t, "[From hours.txt]\nThe library opens at nine.", result.Text)
	require.Len(t, result.Included, 1)
	assert.Equal(t, 0.8, result.Confidence)
}

func TestAssembleContext_BlocksSeparatedByBlankLine(t *testing.T) {
	result := AssembleContext([]domain.Excerpt{
		excerpt("a.txt", "First.", 1.0),
		excerpt("b.txt", "Second.", 0.5),
	}, 1000)

	assert.Equal(t, "[From a.txt]\nFirst.\n\n[From b.txt]\nSecond.", result.Text)
	assert.Equal(t, 0.75, result.Confidence)
}

func TestAssembleContext_SkipsOversizedBlockKeepsLater(t *testing.T) {
	// the long top excerpt does not fit; the shorter lower-ranked one does
	long := excerpt("long.txt", strings.Repeat("x", 200), 0.9)
	short := excerpt("short.txt", "fits", 0.4)

	result := AssembleContext([]domain.Excerpt{long, short}, 60)

	require.Len(t, result.Included, 1)
	assert.Equal(t, "short.txt", result.Included[0].Filename)
	assert.Equal(t, 0.4, result.Confidence)
	assert.NotContains(t, result.Text, "long.txt")
}

func TestAssembleContext_NeverExceedsMaxChars(t *testing.T) {
	excerpts := []domain.Excerpt{
		excerpt("a.txt", strings.Repeat("a", 50), 0.9),
		excerpt("b.txt", strings.Repeat("b", 50), 0.8),
		excerpt("c.txt", strings.Repeat("c", 50), 0.7),
	}

	for _, maxChars := range []int{10, 65, 140, 500} {
		result := AssembleContext(excerpts, maxChars)
		assert.LessOrEqual(t, len([]rune(result.Text)), maxChars, "maxChars=%d", maxChars)
		for _, inc := range result.Included {
			assert.Contains(t, result.Text, inc.Content, "included blocks are never cut")
		}
	}
}

func TestAssembleContext_NothingFits(t *testing.T) {
	result := AssembleContext([]domain.Excerpt{
		excerpt("a.txt", strings.Repeat("a", 100), 0.9),
	}, 20)

	assert.Empty(t, result.Text)
	assert.Empty(t, result.Included)
	assert.Equal(t, 0.0, result.Confidence)
}

func TestAssembleContext_ConfidenceIsMeanOfIncluded(t *testing.T) {
	result := AssembleContext([]domain.Excerpt{
		excerpt("a.txt", "one", 1.0),
		excerpt("b.txt", "two", 0.5),
		excerpt("c.txt", "three", 0.25),
	}, 1000)

	require.Len(t, result.Included, 3)
	assert.InDelta(t, (1.0+0.5+0.25)/3.0, result.Confidence, 1e-9)
}
