package utils

import "strings"

// TruncationMarker is appended to content cut off by a character budget so
// the model knows the text is incomplete.
const TruncationMarker = "\n[... content truncated ...]"

// TruncateChars cuts s to at most budget characters, appending an explicit
// truncation marker. Returns the (possibly shortened) text and whether it
// was truncated. Cuts at a rune boundary.
func TruncateChars(s string, budget int) (string, bool) {
	if budget <= 0 || len(s) <= budget {
		return s, false
	}
	runes := []rune(s)
	if len(runes) <= budget {
		return s, false
	}
	return string(runes[:budget]) + TruncationMarker, true
}

// WordCount counts whitespace-separated words.
func WordCount(s string) int {
	return len(strings.Fields(s))
}

// TruncateWords cuts s to at most n words.
func TruncateWords(s string, n int) string {
	fields := strings.Fields(s)
	if len(fields) <= n {
		return s
	}
	return strings.Join(fields[:n], " ")
}
