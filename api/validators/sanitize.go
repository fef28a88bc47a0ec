package validators

import (
	"strings"
	"unicode"
)

// SanitizeText trims input, drops control characters and caps it at maxRunes.
// Profile fields are free text, so the cap counts runes rather than bytes.
func SanitizeText(input string, maxRunes int) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' {
			return -1
		}
		return r
	}, strings.TrimSpace(input))
	if maxRunes > 0 {
		if runes := []rune(cleaned); len(runes) > maxRunes {
			cleaned = strings.TrimSpace(string(runes[:maxRunes]))
		}
	}
	return cleaned
}

// SanitizeDigits keeps only ASCII digits, up to maxLen of them. Number
// searches are substrings of a 4-digit id, so anything else is noise.
func SanitizeDigits(input string, maxLen int) string {
	var b strings.Builder
	for _, r := range input {
		if r < '0' || r > '9' {
			continue
		}
		if maxLen > 0 && b.Len() >= maxLen {
			break
		}
		b.WriteRune(r)
	}
	return b.String()
}
