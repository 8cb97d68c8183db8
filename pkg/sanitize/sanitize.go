package sanitize

import "unicode/utf8"

// Summary truncates s to at most max bytes for listing previews, cutting at
// the previous word boundary when possible. The forced cut never splits a
// multi-byte rune.
func Summary(s string, max int) string {
	if len(s) <= max {
		return s
	}
	i := max
	for i > 0 && i < len(s) && s[i] != ' ' {
		i--
	}
	if i <= 0 {
		i = max
		for i > 0 && !utf8.RuneStart(s[i]) {
			i--
		}
	}
	return s[:i] + "…"
}
