package search

import (
	"strings"
)

// Preview returns the first n runes of text with whitespace collapsed.
func Preview(text string, n int) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[:n]) + "..."
}

// HighlightWindow returns a window of roughly n runes centered on the
// first case-insensitive occurrence of query in text. Without a match
// it falls back to the head of the text.
func HighlightWindow(text, query string, n int) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}

	pos := runeIndexFold(text, query)
	if pos < 0 {
		return string(runes[:n]) + "..."
	}

	qlen := len([]rune(query))
	start := pos - (n-qlen)/2
	if start < 0 {
		start = 0
	}
	end := start + n
	if end > len(runes) {
		end = len(runes)
		start = end - n
		if start < 0 {
			start = 0
		}
	}

	window := string(runes[start:end])
	if start > 0 {
		window = "..." + window
	}
	if end < len(runes) {
		window += "..."
	}
	return window
}

// runeIndexFold finds the rune offset of the first case-insensitive
// occurrence of substr in s, or -1.
func runeIndexFold(s, substr string) int {
	byteIdx := strings.Index(strings.ToLower(s), strings.ToLower(substr))
	if byteIdx < 0 {
		return -1
	}
	return len([]rune(s[:byteIdx]))
}
