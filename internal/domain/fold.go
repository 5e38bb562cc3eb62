package domain

import (
	"strings"

	"golang.org/x/text/cases"
)

// FoldKey canonicalizes free text for case-insensitive comparison.
// Inner whitespace runs collapse to one space.
func FoldKey(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return ""
	}
	return cases.Fold().String(s)
}

// SameText reports whether two strings are equal after folding.
func SameText(a, b string) bool {
	return FoldKey(a) == FoldKey(b)
}
