package reconcile

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Normalize folds form-only differences: Unicode NFC, trimmed, inner
// whitespace runs collapsed to one space.
func Normalize(s string) string {
	return strings.Join(strings.Fields(norm.NFC.String(s)), " ")
}

// SameText reports whether a and b are equal after Normalize.
func SameText(a, b string) bool {
	return Normalize(a) == Normalize(b)
}
