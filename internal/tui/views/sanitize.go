package views

import (
	"strings"
	"unicode"
)

// sanitizeForTerminal drops runes from remote text that tview cannot lay out
// or that would let a peer scribble on the screen: control characters other
// than newline and tab, bidi overrides, and the joiners, skin tone modifiers
// and variation selectors of composite emoji. A thumbs-up with a skin tone
// comes out as a plain two-cell thumbs-up.
func sanitizeForTerminal(s string) string {
	return strings.Map(func(r rune) rune {
		if dropRune(r) {
			return -1
		}
		return r
	}, s)
}

func dropRune(r rune) bool {
	switch {
	case r == '\n' || r == '\t':
		return false
	case unicode.IsControl(r):
		return true
	case r >= 0x202A && r <= 0x202E, r >= 0x2066 && r <= 0x2069:
		return true
	case r == 0x200D:
		return true
	case r >= 0x1F3FB && r <= 0x1F3FF:
		return true
	default:
		return unicode.Is(unicode.Variation_Selector, r)
	}
}
