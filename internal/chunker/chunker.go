package chunker

import (
	"strings"

	"activity-rag/internal/apperr"
)

// Options controls how text is split.
type Options struct {
	TargetSize int // maximum span length in bytes
	Overlap    int // bytes carried over from the previous span
}

// Span is a bounded slice of the source text. Start/End are byte offsets
// into the original string, so Text == source[Start:End].
type Span struct {
	Index     int
	Text      string
	Start     int
	End       int
	CharCount int
}

const (
	defaultTargetSize = 1000
	defaultOverlap    = 200
)

// Split cuts text into overlapping spans, preferring paragraph, then
// sentence, then word boundaries before falling back to hard cuts.
// Pure and deterministic: identical input and options always produce
// identical spans. Empty input yields zero spans.
func Split(text string, opts Options) ([]Span, error) {
	if opts.TargetSize <= 0 {
		opts.TargetSize = defaultTargetSize
	}
	if opts.Overlap < 0 {
		opts.Overlap = 0
	}
	if opts.Overlap >= opts.TargetSize {
		return nil, apperr.New(apperr.ErrConfig, "overlap %d must be smaller than target size %d", opts.Overlap, opts.TargetSize)
	}
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	var spans []Span
	start := 0
	for start < len(text) {
		end := start + opts.TargetSize
		if end >= len(text) {
			end = len(text)
		} else {
			end = cutPoint(text, start, end)
		}

		segment := text[start:end]
		spans = append(spans, Span{
			Index:     len(spans),
			Text:      segment,
			Start:     start,
			End:       end,
			CharCount: len([]rune(segment)),
		})
		if end == len(text) {
			break
		}

		next := end - opts.Overlap
		// Never move backwards: a short final boundary cut must still advance.
		if next <= start {
			next = end
		}
		start = next
	}
	return spans, nil
}

// cutPoint picks the best split position in (start, limit], preferring a
// paragraph break, then a sentence end, then a word boundary. A boundary is
// only used if it keeps the span at least half the target size; otherwise
// the hard limit wins.
func cutPoint(text string, start, limit int) int {
	minCut := start + (limit-start)/2
	window := text[start:limit]

	if idx := strings.LastIndex(window, "\n\n"); idx >= 0 && start+idx+2 > minCut {
		return start + idx + 2
	}
	for _, sep := range []string{". ", "! ", "? ", "\n"} {
		if idx := strings.LastIndex(window, sep); idx >= 0 && start+idx+len(sep) > minCut {
			return start + idx + len(sep)
		}
	}
	if idx := strings.LastIndex(window, " "); idx >= 0 && start+idx+1 > minCut {
		return start + idx + 1
	}
	return limit
}
