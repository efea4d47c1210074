// Package chunker splits text into bounded spans for embedding and
// retrieval. Spans are byte ranges into the source: they never overlap,
// and concatenating a source's spans in order reproduces the source
// exactly. Overlap between neighbouring chunks exists only in the text
// prepared for the embedder (EmbedText), never in the spans themselves.
package chunker

import (
	"strings"
	"unicode/utf8"
)

const (
	DefaultMaxSize = 500
	DefaultOverlap = 50
)

// Options configures chunking behavior.
type Options struct {
	// MaxSize is the maximum span length in bytes.
	MaxSize int
	// Overlap is how many trailing bytes of the previous span are
	// prefixed to a chunk's EmbedText for embedding context.
	Overlap int
}

// DefaultOptions returns default chunking options.
func DefaultOptions() Options {
	return Options{MaxSize: DefaultMaxSize, Overlap: DefaultOverlap}
}

// Span is one chunk of the source text. Text == source[Start:End].
type Span struct {
	Start int
	End   int
	Text  string
	// EmbedText is Text with up to Overlap bytes of preceding context
	// prepended. Used as embedder input only; storage and
	// reconstruction use Text.
	EmbedText string
}

// Chunk splits text into spans. Empty input returns nil; input no
// longer than MaxSize returns a single span covering the whole text.
func Chunk(text string, opts Options) []Span {
	if opts.MaxSize <= 0 {
		opts.MaxSize = DefaultMaxSize
	}
	if opts.Overlap < 0 {
		opts.Overlap = 0
	}
	if len(text) == 0 || strings.TrimSpace(text) == "" {
		return nil
	}

	var spans []Span
	pos := 0
	for pos < len(text) {
		end := pos + opts.MaxSize
		if end >= len(text) {
			end = len(text)
		} else {
			end = pos + cutPoint(text[pos:end], opts.MaxSize)
			// Never split a multi-byte rune at a hard cut.
			for end > pos+1 && !utf8.RuneStart(text[end]) {
				end--
			}
		}
		spans = append(spans, Span{Start: pos, End: end, Text: text[pos:end]})
		pos = end
	}

	for i := range spans {
		spans[i].EmbedText = spans[i].Text
		if i > 0 && opts.Overlap > 0 {
			prev := spans[i-1].Text
			tail := prev
			if len(prev) > opts.Overlap {
				tail = prev[len(prev)-opts.Overlap:]
				// Keep the context aligned to a rune boundary.
				for len(tail) > 0 && !utf8.RuneStart(tail[0]) {
					tail = tail[1:]
				}
			}
			spans[i].EmbedText = tail + spans[i].Text
		}
	}

	return spans
}

// cutPoint picks where to cut a window that is exactly max bytes long.
// Preference order: last paragraph break, last sentence end, hard cut.
// Boundary cuts below minCut are rejected so chunks stay substantial.
func cutPoint(window string, max int) int {
	minCut := max / 4

	if i := strings.LastIndex(window, "\n\n"); i >= 0 && i+2 >= minCut {
		return i + 2
	}
	if i := lastSentenceEnd(window); i >= minCut {
		return i
	}
	return max
}

// lastSentenceEnd returns the byte offset just past the last sentence
// terminator ('.', '!' or '?' followed by whitespace), or -1.
func lastSentenceEnd(s string) int {
	for i := len(s) - 1; i > 0; i-- {
		c := s[i]
		if c != ' ' && c != '\n' && c != '\t' {
			continue
		}
		switch s[i-1] {
		case '.', '!', '?':
			return i
		}
	}
	return -1
}
