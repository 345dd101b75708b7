package indexer

import (
	"strings"
	"unicode"
)

// NormalizeText prepares extracted text for chunking: line endings become '\n',
// runs of other whitespace collapse to one space, runs of three or more newlines
// collapse to a blank line, and the result is trimmed. Newlines are kept because
// the chunker uses them as break points.
func NormalizeText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = strings.TrimSpace(text)
	var b strings.Builder
	b.Grow(len(text))
	newlines := 0
	wasSpace := false
	for _, r := range text {
		switch {
		case r == '\n':
			newlines++
			if newlines <= 2 {
				b.WriteRune('\n')
			}
			wasSpace = false
		case unicode.IsSpace(r):
			if !wasSpace && newlines == 0 {
				b.WriteRune(' ')
				wasSpace = true
			}
		default:
			b.WriteRune(r)
			newlines = 0
			wasSpace = false
		}
	}
	return b.String()
}
