package live

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// StopPhrases detects verbal requests to end the session.
type StopPhrases struct {
	phrases []string
}

// NewStopPhrases normalizes phrases. Empty entries are dropped.
func NewStopPhrases(phrases []string) StopPhrases {
	out := make([]string, 0, len(phrases))
	for _, p := range phrases {
		if n := normalizeUtterance(p); n != "" {
			out = append(out, n)
		}
	}
	return StopPhrases{phrases: out}
}

// Match reports whether text, once normalized, ends with a stop phrase on
// a word boundary.
func (s StopPhrases) Match(text string) (string, bool) {
	norm := normalizeUtterance(text)
	if norm == "" {
		return "", false
	}
	for _, p := range s.phrases {
		if !strings.HasSuffix(norm, p) {
			continue
		}
		rest := norm[:len(norm)-len(p)]
		if rest == "" {
			return p, true
		}
		r, _ := utf8.DecodeLastRuneInString(rest)
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return p, true
		}
	}
	return "", false
}

var utteranceReplacer = strings.NewReplacer(
	".", "",
	",", "",
	"!", "",
	"?", "",
	"’", "'",
)

// normalizeUtterance lowercases, strips .,!? and collapses whitespace.
func normalizeUtterance(s string) string {
	s = utteranceReplacer.Replace(strings.ToLower(s))
	return strings.Join(strings.Fields(s), " ")
}
