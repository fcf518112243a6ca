// Package chunk splits document text into overlapping pieces sized for
// embedding.
//
// The splitter aims for a target character count per chunk but prefers to cut
// on a paragraph boundary, then a sentence boundary, then a word boundary,
// falling back to a hard cut only for unbroken runs longer than the target.
// Consecutive chunks share a configurable overlap so that statements spanning
// a boundary stay retrievable.
package chunk

import (
	"strings"
	"unicode"
)

// Splitter produces chunks from normalized text.
type Splitter struct {
	size    int     // target characters per chunk
	overlap float64 // fraction of size carried into the next chunk
}

// NewSplitter creates a splitter. Size must be positive; overlap is clamped
// to [0, 0.5].
func NewSplitter(size int, overlap float64) *Splitter {
	if size < 1 {
		size = 1
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap > 0.5 {
		overlap = 0.5
	}
	return &Splitter{size: size, overlap: overlap}
}

// Split normalizes the text and cuts it into chunks. Blank input yields no
// chunks. Every non-empty chunk is trimmed of surrounding whitespace.
func (s *Splitter) Split(text string) []string {
	text = Normalize(text)
	if text == "" {
		return nil
	}

	runes := []rune(text)
	step := s.size - int(float64(s.size)*s.overlap)
	if step < 1 {
		step = 1
	}

	var chunks []string
	start := 0
	for start < len(runes) {
		end := start + s.size
		if end >= len(runes) {
			if c := strings.TrimSpace(string(runes[start:])); c != "" {
				chunks = append(chunks, c)
			}
			break
		}

		cut := boundary(runes, start, end)
		c := strings.TrimSpace(string(runes[start:cut]))
		if c != "" {
			chunks = append(chunks, c)
		}

		next := cut - int(float64(s.size)*s.overlap)
		if next <= start {
			next = start + step
		}
		start = next
	}
	return chunks
}

// boundary picks the cut position within (start, end], preferring the latest
// paragraph break, then sentence end, then word break, inside the window.
// All scanning works in rune indices; the window is never round-tripped
// through a string, so multibyte text cuts where it should.
func boundary(runes []rune, start, end int) int {
	for i := end - 2; i > start; i-- {
		if runes[i] == '\n' && runes[i+1] == '\n' {
			return i
		}
	}
	if i := lastSentenceEnd(runes, start, end); i >= 0 {
		return i
	}
	if i := lastSpace(runes, start, end); i >= 0 {
		return i
	}
	return end
}

// lastSentenceEnd returns the rune index just past the last sentence
// terminator followed by whitespace within (start, end), or -1.
func lastSentenceEnd(runes []rune, start, end int) int {
	for i := end - 2; i > start; i-- {
		switch runes[i] {
		case '.', '!', '?':
			if unicode.IsSpace(runes[i+1]) {
				return i + 1
			}
		}
	}
	return -1
}

func lastSpace(runes []rune, start, end int) int {
	for i := end - 1; i > start; i-- {
		if unicode.IsSpace(runes[i]) {
			return i
		}
	}
	return -1
}

// Normalize collapses runs of spaces and tabs, normalizes line endings, and
// squeezes three or more newlines to a paragraph break. Chunking and content
// hashing both operate on normalized text, so cosmetic whitespace edits do
// not defeat re-ingestion dedup.
func Normalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	var b strings.Builder
	b.Grow(len(text))
	spaces := 0
	newlines := 0
	for _, r := range text {
		switch {
		case r == '\n':
			newlines++
			spaces = 0
		case r == ' ' || r == '\t':
			spaces++
		default:
			if newlines > 0 {
				if newlines >= 2 {
					b.WriteString("\n\n")
				} else {
					b.WriteByte('\n')
				}
				newlines = 0
			} else if spaces > 0 {
				b.WriteByte(' ')
			}
			spaces = 0
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}
