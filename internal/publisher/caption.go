package publisher

import (
	"strings"
	"unicode/utf8"
)

// MaxMessageLength is the longest text a single outbound message may carry.
const MaxMessageLength = 4096

const ellipsis = "..."

// Attribution is the suffix naming the channel a post came from. For a
// "<guild>/<name>" channel only the name is shown.
func Attribution(channel string) string {
	if i := strings.LastIndex(channel, "/"); i >= 0 {
		channel = channel[i+1:]
	}
	return "\n\nSource: @" + strings.TrimPrefix(channel, "@")
}

// ShapeCaption returns header+text+suffix, truncating only text (with a
// trailing "...") when the whole would exceed max runes. The suffix is
// never cut.
func ShapeCaption(header, text, suffix string, max int) string {
	h, t, s := utf8.RuneCountInString(header), utf8.RuneCountInString(text), utf8.RuneCountInString(suffix)
	if h+t+s <= max {
		return header + text + suffix
	}

	keep := max - h - s - len(ellipsis)
	if keep < 0 {
		keep = 0
	}
	runes := []rune(text)
	if keep > len(runes) {
		keep = len(runes)
	}
	return header + string(runes[:keep]) + ellipsis + suffix
}

// SplitText cuts s into chunks of at most size runes, preferring to break
// after a newline or space in the second half of a chunk.
func SplitText(s string, size int) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}

	runes := []rune(s)
	var chunks []string
	for len(runes) > size {
		cut := size
		for i := size - 1; i >= size/2; i-- {
			if runes[i] == '\n' || runes[i] == ' ' {
				cut = i + 1
				break
			}
		}
		chunks = append(chunks, string(runes[:cut]))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		chunks = append(chunks, string(runes))
	}
	return chunks
}
