package validators

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// CleanText trims surrounding whitespace, repairs invalid UTF-8 and drops
// control characters other than newline and tab from component names and
// descriptions. When maxRunes > 0 the result keeps at most that many runes,
// so multibyte text is never cut mid-character.
func CleanText(s string, maxRunes int) string {
	s = strings.ToValidUTF8(s, "\uFFFD")
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			return -1
		}
		return r
	}, s)
	s = strings.TrimSpace(s)
	if maxRunes <= 0 || utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:maxRunes]))
}

// CleanTextPtr applies CleanText to an optional PATCH field.
func CleanTextPtr(s *string, maxRunes int) *string {
	if s == nil {
		return nil
	}
	cleaned := CleanText(*s, maxRunes)
	return &cleaned
}
