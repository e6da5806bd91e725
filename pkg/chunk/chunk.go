// Package chunk implements size-aware partitioning of oversized documents
// on structural boundaries, and the chunk-order merge of per-chunk
// Extraction Facts back into one record (spec §4.4).
package chunk

import (
	"math"
	"strconv"
	"strings"
)

// reservedBudget is the fixed token reservation for output cap, system
// prompt, thinking budget, and protocol overhead (spec §4.4's R).
const reservedBudget = 37000

// fillFactor and charsPerToken are the fixed constants of the size
// envelope formula (spec §4.4).
const (
	fillFactor   = 0.70
	charsPerToken = 4
	minChars      = 8000
)

// minOverlapChars is the floor on window overlap even when 10% of
// maxChars would be smaller.
const minOverlapChars = 2000

// MaxChars computes the per-request soft character limit for a model
// with the given context window in tokens (spec §4.4's size envelope).
func MaxChars(contextWindowTokens int) int {
	budget := contextWindowTokens - reservedBudget
	if budget < minChars {
		budget = minChars
	}
	return int(math.Round(float64(budget) * fillFactor * charsPerToken))
}

// Window is one partition of a document's text, carrying its position so
// a "part N of M" prefix can be rendered.
type Window struct {
	Text  string
	Index int // 0-based
	Total int
}

// Partition splits text into windows of at most maxChars characters, each
// after the first prefixed with a one-line position marker. If text
// already fits within maxChars, a single window is returned unprefixed.
func Partition(text string, maxChars int) []Window {
	if len(text) <= maxChars {
		return []Window{{Text: text, Index: 0, Total: 1}}
	}

	overlap := maxChars / 10
	if overlap < minOverlapChars {
		overlap = minOverlapChars
	}
	if overlap >= maxChars {
		overlap = maxChars / 2
	}

	var raw []string
	start := 0
	for start < len(text) {
		end := start + maxChars
		if end >= len(text) {
			raw = append(raw, text[start:])
			break
		}
		end = chooseBreak(text, start, end)
		raw = append(raw, text[start:end])
		next := end - overlap
		if next <= start {
			next = end
		}
		start = next
	}

	windows := make([]Window, len(raw))
	for i, t := range raw {
		if i > 0 {
			t = positionNote(i+1, len(raw)) + t
		}
		windows[i] = Window{Text: t, Index: i, Total: len(raw)}
	}
	return windows
}

func positionNote(n, total int) string {
	return "[part " + strconv.Itoa(n) + " of " + strconv.Itoa(total) + "]\n"
}

// chooseBreak finds the best structural break point inside the last 50%
// of the [start, naiveEnd) window, in priority order: a markdown heading
// line, a double newline, a single newline, else the hard window
// boundary. A candidate break falling inside a markdown table row is
// skipped in favor of the next one (spec §4.4).
func chooseBreak(text string, start, naiveEnd int) int {
	searchFrom := start + (naiveEnd-start)/2
	if searchFrom < start {
		searchFrom = start
	}
	region := text[searchFrom:naiveEnd]

	if idx, ok := lastHeadingBreak(region); ok {
		pos := searchFrom + idx
		if !insideTableRow(text, pos) {
			return pos
		}
	}
	if idx := strings.LastIndex(region, "\n\n"); idx >= 0 {
		pos := searchFrom + idx + 2
		if !insideTableRow(text, pos) {
			return pos
		}
	}
	if idx := strings.LastIndex(region, "\n"); idx >= 0 {
		pos := searchFrom + idx + 1
		if !insideTableRow(text, pos) {
			return pos
		}
	}
	return naiveEnd
}

// lastHeadingBreak finds the last line in region starting with "# " or
// "## ", returning the offset of that line's start within region.
func lastHeadingBreak(region string) (int, bool) {
	lines := strings.Split(region, "\n")
	offset := len(region)
	for i := len(lines) - 1; i >= 0; i-- {
		offset -= len(lines[i])
		if i > 0 {
			offset-- // account for the newline separator
		}
		trimmed := lines[i]
		if strings.HasPrefix(trimmed, "## ") || strings.HasPrefix(trimmed, "# ") {
			return offset, true
		}
	}
	return 0, false
}

// insideTableRow reports whether pos falls on a line that looks like a
// markdown table row (starts and ends with "|").
func insideTableRow(text string, pos int) bool {
	lineStart := strings.LastIndexByte(text[:pos], '\n') + 1
	lineEnd := len(text)
	if idx := strings.IndexByte(text[pos:], '\n'); idx >= 0 {
		lineEnd = pos + idx
	}
	if lineStart >= lineEnd {
		return false
	}
	line := strings.TrimSpace(text[lineStart:lineEnd])
	return strings.HasPrefix(line, "|") && strings.HasSuffix(line, "|")
}
