package conversations

import (
	"strings"
	"unicode"
)

const snippetContext = 80

// Highlight cuts an excerpt of text around the first case-insensitive match
// of query, wrapping the match in ** markers. Up to contextRunes runes are
// kept on each side; cut ends are marked with "...". Without a match it
// returns the leading 2*contextRunes runes and false.
func Highlight(text, query string, contextRunes int) (string, bool) {
	src := []rune(text)
	idx := indexFold(src, []rune(query))
	if idx < 0 {
		if len(src) > 2*contextRunes {
			return string(src[:2*contextRunes]), false
		}
		return text, false
	}

	qlen := len([]rune(query))
	start := max(0, idx-contextRunes)
	end := min(len(src), idx+qlen+contextRunes)

	var b strings.Builder
	if start > 0 {
		b.WriteString("...")
	}
	b.WriteString(string(src[start:idx]))
	b.WriteString("**")
	b.WriteString(string(src[idx : idx+qlen]))
	b.WriteString("**")
	b.WriteString(string(src[idx+qlen : end]))
	if end < len(src) {
		b.WriteString("...")
	}
	return b.String(), true
}

// indexFold is a rune-wise case-insensitive index, so positions stay valid
// for text whose lower-case form has a different byte length.
func indexFold(text, query []rune) int {
	if len(query) == 0 {
		return -1
	}
	for i := 0; i+len(query) <= len(text); i++ {
		match := true
		for j, q := range query {
			if unicode.ToLower(text[i+j]) != unicode.ToLower(q) {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}
