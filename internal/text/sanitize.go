// Package text prepares outbound utterance text for the legacy engine:
// control-character scrubbing, whitespace collapsing, transliteration to
// the engine's Windows-1252 code page, and word-boundary chunking around
// the engine's internal text-length limit.
package text

import (
	"strings"

	"golang.org/x/text/encoding/charmap"
)

// Sanitize scrubs and transliterates one utterance. Control characters
// and code-page-unmappable runes become spaces (the engine mispronounces
// placeholder glyphs far worse than it handles a missing word), runs of
// whitespace collapse to single spaces, and the result is trimmed. The
// returned string holds Windows-1252 bytes, ready for the engine after
// NUL termination. An empty return means nothing speakable survived.
func Sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	prevSpace := true
	for _, r := range s {
		if r == ' ' {
			r = ' '
		}
		if (r < 0x20 && r != '\r' && r != '\n' && r != '\t') || (r >= 0x7f && r <= 0x9f) {
			r = ' '
		}

		if r == ' ' || r == '\t' || r == '\r' || r == '\n' {
			if !prevSpace {
				b.WriteByte(' ')
			}
			prevSpace = true
			continue
		}

		c, ok := charmap.Windows1252.EncodeRune(r)
		// The engine reads '?' as a placeholder glyph, so a literal one
		// gets the same treatment as an unmappable rune.
		if !ok || c == '?' {
			if !prevSpace {
				b.WriteByte(' ')
			}
			prevSpace = true
			continue
		}
		b.WriteByte(c)
		prevSpace = false
	}

	return strings.TrimRight(b.String(), " ")
}
