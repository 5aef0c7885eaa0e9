// Package chunker splits document text into ordered, bounded, overlapping
// segments, preferring sentence and paragraph boundaries over hard cuts.
package chunker

import "strings"

// Config controls chunking for document ingestion.
type Config struct {
	ChunkSize int
	Overlap   int
}

// DefaultConfig provides sane defaults for prose documents.
func DefaultConfig() Config {
	return Config{
		ChunkSize: 3500,
		Overlap:   200,
	}
}

// sentence terminators searched backward within a window, in no
// particular priority: the rightmost occurrence wins
var sentenceTerminators = []string{". ", "! ", "? "}

const paragraphBreak = "\n\n"

// Split cuts text into non-empty chunks of at most cfg.ChunkSize runes.
// Window cuts land just after the last sentence terminator in the window
// when one exists, else after the last paragraph break, else at the hard
// size boundary. Consecutive chunks share cfg.Overlap runes of context.
// The scan position always moves forward, so Split terminates for every
// input even when the overlap reaches back past a cut.
func Split(text string, cfg Config) []string {
	clean := strings.TrimSpace(text)
	if clean == "" {
		return nil
	}

	if cfg.ChunkSize <= 0 {
		cfg = DefaultConfig()
	}
	if cfg.Overlap < 0 || cfg.Overlap >= cfg.ChunkSize {
		cfg.Overlap = 0
	}

	runes := []rune(clean)
	if len(runes) <= cfg.ChunkSize {
		return []string{clean}
	}

	chunks := make([]string, 0, len(runes)/cfg.ChunkSize+1)
	pos := 0
	for pos < len(runes) {
		end := pos + cfg.ChunkSize
		if end > len(runes) {
			end = len(runes)
		}

		if end < len(runes) {
			window := string(runes[pos:end])
			if cut := lastBoundary(window); cut > 0 {
				end = pos + cut
			}
		}

		chunk := strings.TrimSpace(string(runes[pos:end]))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}

		if end >= len(runes) {
			break
		}

		next := end - cfg.Overlap
		if next <= pos {
			// forward-progress guard: overlap would stall or rewind the scan
			next = end
		}
		pos = next
	}

	return chunks
}

// lastBoundary returns the rune offset just past the best cut point in
// window, or 0 when only the hard boundary applies.
func lastBoundary(window string) int {
	best := -1
	for _, term := range sentenceTerminators {
		if i := strings.LastIndex(window, term); i > best {
			best = i
		}
	}
	width := 2 // all terminators and the paragraph break are two runes wide

	if best == -1 {
		if i := strings.LastIndex(window, paragraphBreak); i != -1 {
			best = i
		}
	}

	if best == -1 {
		return 0
	}

	// strings.LastIndex works in bytes; convert back to a rune offset
	return len([]rune(window[:best])) + width
}
