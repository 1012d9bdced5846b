// Package util holds small input helpers shared by the services.
package util

import (
	"strings"
	"unicode"
)

// CleanLabel trims s and drops control and invisible formatting runes
// (zero-width spaces, bidi marks, BOM) so names shown to admins and
// written to logs cannot hide or reorder text.
func CleanLabel(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsControl(r) || isInvisible(r) {
			continue
		}
		b.WriteRune(r)
	}

	return strings.TrimSpace(b.String())
}

func isInvisible(r rune) bool {
	// Cf covers zero-width spaces and joiners, bidi marks and overrides, and the BOM.
	return unicode.Is(unicode.Cf, r)
}
