// Package column converts between 1-based column positions and spreadsheet
// column labels (A, B, ... Z, AA, AB, ...).
//
// Labels are bijective base-26 numerals: there is no zero digit, 'A' is 1 and
// 'Z' is 26, so 26 is "Z" and 27 is "AA".
package column

import (
	"math"
	"strings"

	"eavetl/internal/etlerr"
)

const alphabet = 26

// Label returns the spreadsheet label for a 1-based column position.
//
// Errors:
//   - etlerr.InvalidArgument if position <= 0.
func Label(position int) (string, error) {
	if position <= 0 {
		return "", etlerr.New(etlerr.InvalidArgument, "column: position must be >= 1, got %d", position)
	}

	// Longest label for a 64-bit int is 14 letters.
	var buf [16]byte
	i := len(buf)
	for n := position; n > 0; {
		n--
		i--
		buf[i] = byte('A' + n%alphabet)
		n /= alphabet
	}
	return string(buf[i:]), nil
}

// MustLabel is Label for positions known to be valid. It panics otherwise.
func MustLabel(position int) string {
	s, err := Label(position)
	if err != nil {
		panic(err)
	}
	return s
}

// Position returns the 1-based position for a label. Lower case letters are
// accepted.
//
// Errors:
//   - etlerr.InvalidArgument for an empty label, a non-letter character, or a
//     label whose position does not fit in an int.
func Position(label string) (int, error) {
	if label == "" {
		return 0, etlerr.New(etlerr.InvalidArgument, "column: empty label")
	}

	n := 0
	for _, r := range strings.ToUpper(label) {
		if r < 'A' || r > 'Z' {
			return 0, etlerr.New(etlerr.InvalidArgument, "column: invalid character %q in label %q", r, label)
		}
		d := int(r-'A') + 1
		if n > (math.MaxInt-d)/alphabet {
			return 0, etlerr.New(etlerr.InvalidArgument, "column: label %q overflows int", label)
		}
		n = n*alphabet + d
	}
	return n, nil
}
