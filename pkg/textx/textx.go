// Package textx provides small text utilities used across the project.
package textx

import (
	"strings"
)

// WordCount returns the number of non-empty whitespace-separated words in s.
// Every accounting site (prompt admission, result crediting, kudos) must use
// this routine so that requested and contributed token totals stay comparable.
func WordCount(s string) int {
	return len(strings.Fields(s))
}

// SanitizeText removes control characters except tab/newline/CR and trims spaces.
func SanitizeText(s string) string {
	// strip control chars outside tab/newline/carriage return
	var b strings.Builder
	for _, r := range s {
		if r == '\n' || r == '\r' || r == '\t' || (r >= 32 && r != 127) {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}
