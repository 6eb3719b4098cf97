package text

import "strings"

// Chunks splits sanitized text into pieces of at most roughly maxChars
// bytes, extending past the boundary to the next space so words stay
// whole. A run with no space gets hard-split to guarantee progress.
// Chunk boundaries double as cancellation points during synthesis.
func Chunks(s string, maxChars int) []string {
	if s == "" || maxChars <= 0 {
		return nil
	}

	var out []string
	start := 0
	for start < len(s) {
		if len(s)-start <= maxChars {
			out = append(out, s[start:])
			break
		}

		split := strings.IndexByte(s[start+maxChars:], ' ')
		if split < 0 {
			split = start + maxChars
		} else {
			split += start + maxChars
		}

		if split > start {
			out = append(out, s[start:split])
		}

		start = split
		for start < len(s) && s[start] == ' ' {
			start++
		}
	}
	return out
}
