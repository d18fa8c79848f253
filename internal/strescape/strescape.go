// Package strescape sanitizes strings that come from the platform or the
// backend before they are displayed or used as file names.
package strescape

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Label returns s escaped from chars that don't belong in a device label and
// trimmed of surrounding space.
func Label(s string) string {
	return strings.TrimSpace(strings.Map(func(r rune) rune {
		if !strconv.IsPrint(r) {
			return -1
		}
		if r == utf8.RuneError {
			return -1
		}
		return r
	}, s))
}

// Content returns s escaped from chars that don't belong in content.
func Content(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return r
		}
		if !strconv.IsGraphic(r) {
			return -1
		}
		if r == utf8.RuneError {
			return -1
		}
		return r
	}, s)
}

// Utterance returns the text of a transcript utterance ready for display:
// escaped content with canonical newlines and no surrounding space.
func Utterance(s string) string {
	return strings.TrimSpace(CanonicalizeNL(Content(s)))
}

var pathElementNonChars = map[rune]struct{}{
	':':  {},
	'\\': {},
	'/':  {},
	'*':  {},
	'?':  {},
	'<':  {},
	'>':  {},
	'|':  {},
	';':  {},
}

// PathElement returns s escaped from chars that modify a path element.
func PathElement(s string) string {
	return strings.Map(func(r rune) rune {
		if !strconv.IsPrint(r) {
			return -1
		}
		if _, ok := pathElementNonChars[r]; ok {
			return -1
		}
		if r == utf8.RuneError {
			return -1
		}
		return r
	}, s)
}

// CanonicalizeNL converts all newline char sequences to \n. Additionally, it
// trims all empty newlines from the right of the string.
func CanonicalizeNL(val string) string {
	val = strings.ReplaceAll(val, "\r\n", "\n")
	val = strings.ReplaceAll(val, "\r", "\n")
	val = strings.TrimRight(val, "\n")
	return val
}
