// Package natsort orders strings the way people read numbered file names:
// "2.jpg" before "10.jpg".
package natsort

import (
	"slices"
	"strings"

	"golang.org/x/text/cases"
)

type chunk struct {
	text  string
	digit bool
}

func split(s string) []chunk {
	var chunks []chunk
	for len(s) > 0 {
		digit := isDigit(s[0])
		i := 1
		for i < len(s) && isDigit(s[i]) == digit {
			i++
		}
		chunks = append(chunks, chunk{text: s[:i], digit: digit})
		s = s[i:]
	}
	return chunks
}

func isDigit(b byte) bool {
	return '0' <= b && b <= '9'
}

// compareDigits compares two digit runs numerically without parsing them.
func compareDigits(a, b string) int {
	ta, tb := strings.TrimLeft(a, "0"), strings.TrimLeft(b, "0")
	if len(ta) != len(tb) {
		return len(ta) - len(tb)
	}
	return strings.Compare(ta, tb)
}

// Compare returns a negative number when a sorts before b, a positive one
// when after, and 0 only when a == b.
func Compare(a, b string) int {
	fold := cases.Fold()
	ca, cb := split(a), split(b)
	for i := 0; i < len(ca) && i < len(cb); i++ {
		x, y := ca[i], cb[i]
		var c int
		switch {
		case x.digit && y.digit:
			c = compareDigits(x.text, y.text)
		case x.digit != y.digit:
			// Numbers sort before text.
			if x.digit {
				return -1
			}
			return 1
		default:
			c = strings.Compare(fold.String(x.text), fold.String(y.text))
		}
		if c != 0 {
			return c
		}
	}
	if len(ca) != len(cb) {
		return len(ca) - len(cb)
	}
	return strings.Compare(a, b)
}

// Less reports whether a sorts before b.
func Less(a, b string) bool {
	return Compare(a, b) < 0
}

// Strings sorts xs in natural order in place.
func Strings(xs []string) {
	slices.SortStableFunc(xs, Compare)
}

// SortFunc sorts items in natural order of key(item).
func SortFunc[T any](items []T, key func(T) string) {
	slices.SortStableFunc(items, func(a, b T) int {
		return Compare(key(a), key(b))
	})
}
