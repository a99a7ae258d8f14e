// Package norm canonicalizes text for position-independent matching.
// Matching always happens in normalized space, but tree offsets must be set
// in original-string space, so the package also provides the inverse index
// mapping.
package norm

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Normalize collapses every whitespace run to a single space, trims both
// ends, and lowercases the result.
func Normalize(s string) string {
	var buf strings.Builder
	buf.Grow(len(s))
	pendingSpace := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			if buf.Len() > 0 {
				pendingSpace = true
			}
			continue
		}
		if pendingSpace {
			buf.WriteByte(' ')
			pendingSpace = false
		}
		buf.WriteRune(unicode.ToLower(r))
	}
	return buf.String()
}

// MapIndex maps a byte offset in Normalize(original) back to a byte offset
// in original. The cursor advances by the encoded size of each lowercased
// rune, matching what Normalize emits, so multibyte text maps correctly.
// Leading whitespace is skipped without counting, mirroring the trim; an
// interior whitespace run advances the cursor by the one space byte it
// collapses to. When target is at or past the end of the normalized content
// the length of original is returned. The result is monotonically
// non-decreasing in target.
func MapIndex(original string, target int) int {
	if target < 0 {
		target = 0
	}
	cursor := 0
	started := false
	inRun := false
	for j, r := range original {
		if unicode.IsSpace(r) {
			if started {
				inRun = true
			}
			continue
		}
		if inRun {
			cursor++
			inRun = false
		}
		if cursor >= target {
			return j
		}
		cursor += utf8.RuneLen(unicode.ToLower(r))
		started = true
	}
	return len(original)
}
