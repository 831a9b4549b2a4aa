package statusui

import "golang.org/x/text/width"

// displayWidth estimates the terminal columns s occupies, folding
// full-width/wide runes (CJK, emoji-adjacent glyphs) to their double-width
// contribution instead of assuming one column per rune.
func displayWidth(s string) int {
	n := 0
	for _, r := range s {
		switch width.LookupRune(r).Kind() {
		case width.EastAsianWide, width.EastAsianFullwidth:
			n += 2
		default:
			n++
		}
	}
	return n
}

// padRight pads s with spaces to at least w display columns.
func padRight(s string, w int) string {
	n := displayWidth(s)
	if n >= w {
		return s
	}
	pad := make([]byte, w-n)
	for i := range pad {
		pad[i] = ' '
	}
	return s + string(pad)
}
