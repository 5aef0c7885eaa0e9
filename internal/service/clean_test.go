package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanText(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "trims surrounding whitespace",
			input:    "  hello world  \n",
			expected: "hello world",
		},
		{
			name:     "normalizes windows line endings",
			input:    "line one\r\nline two\rline three",
			expected: "line one\nline two\nline three",
		},
		{
			name:     "drops control characters",
			input:    "before\x00\x08after",
			expected: "beforeafter",
		},
		{
			name:     "keeps tabs and newlines",
			input:    "col1\tcol2\nrow2",
			expected: "col1\tcol2\nrow2",
		},
		{
			name:     "collapses blank line runs",
			input:    "para one\n\n\n\n\npara two",
			expected: "para one\n\npara two",
		},
		{
			name:     "empty input",
			input:    "",
			expected: "",
		},
		{
			name:     "whitespace only",
			input:    " \t \n ",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, CleanText(tt.input))
		})
	}
}
