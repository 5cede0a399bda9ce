package observability

import (
	"strings"
	"unicode"
)

// cleanField drops control characters so client-supplied values cannot forge log lines, and caps
// the result at limit runes.
func cleanField(value string, limit int) string {
	var b strings.Builder
	n := 0
	for _, r := range value {
		if unicode.IsControl(r) {
			continue
		}
		if n == limit {
			break
		}
		b.WriteRune(r)
		n++
	}
	return b.String()
}
