// Package textutil holds small string helpers shared by the log call sites.
package textutil

import "unicode/utf8"

// Truncate shortens s to at most n bytes plus an ellipsis, cutting on a rune
// boundary so multi-byte characters are never split.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 0 {
		return "..."
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
