package parser

import (
	"strings"
	"unicode/utf8"
)

// Classify labels a page from its extracted text and the number of image
// paint operations. Rules are applied in order and the first match wins.
// Text of 20 to 50 characters falls through to ClassEmpty regardless of
// images.
func Classify(text string, imageOps int) PageClass {
	n := utf8.RuneCountInString(strings.TrimSpace(text))
	switch {
	case n > 50 && imageOps == 0:
		return ClassText
	case n < 20 && imageOps > 0:
		return ClassImageOnly
	case n > 50 && imageOps > 0:
		return ClassMixed
	default:
		return ClassEmpty
	}
}
