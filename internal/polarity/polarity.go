// Package polarity encodes per-axis current signs as the three character code
// understood by the coil polarity relay.
//
// The code lists the axes in X, Y, Z order. '0' selects positive polarity and
// '1' selects negative polarity.
package polarity

import (
	"fmt"
	"math"
	"strings"

	"github.com/banshee-data/helmholtz/internal/field"
)

const (
	Positive byte = '0'
	Negative byte = '1'
)

// Code is a polarity code such as "010".
type Code string

// Valid reports whether the code is exactly three characters over {0,1}.
func (c Code) Valid() bool {
	if len(c) != field.NumAxes {
		return false
	}
	for i := 0; i < len(c); i++ {
		if c[i] != Positive && c[i] != Negative {
			return false
		}
	}
	return true
}

// Encode derives the code from a signed current triple. A value is positive
// when it equals its absolute value, so zero (and negative zero) encode as '0'.
func Encode(c field.CurrentTriple) Code {
	var b [field.NumAxes]byte
	for _, a := range field.Axes {
		v := c.Get(a)
		if v == math.Abs(v) {
			b[a] = Positive
		} else {
			b[a] = Negative
		}
	}
	return Code(b[:])
}

// Signs is one of +1 or -1 per axis.
type Signs [field.NumAxes]float64

// Decode maps '0' to +1 and any other character to -1. Missing characters
// decode as +1.
func Decode(c Code) Signs {
	s := Signs{1, 1, 1}
	for i := 0; i < len(c) && i < field.NumAxes; i++ {
		if c[i] != Positive {
			s[i] = -1
		}
	}
	return s
}

// Apply signs the magnitudes of m. The sign already carried by m is dropped.
func (s Signs) Apply(m field.CurrentTriple) field.CurrentTriple {
	var out field.CurrentTriple
	for _, a := range field.Axes {
		out.Set(a, s[a]*math.Abs(m.Get(a)))
	}
	return out
}

// Parse extracts a code from a relay response line. The relay may separate
// the digits ("1,0,1" or "1 0 1") or echo a prefix; only '0' and '1'
// characters are kept and exactly three are required.
func Parse(line string) (Code, error) {
	line = strings.TrimSpace(line)
	var b strings.Builder
	for i := 0; i < len(line); i++ {
		if line[i] == Positive || line[i] == Negative {
			b.WriteByte(line[i])
		}
	}
	code := Code(b.String())
	if !code.Valid() {
		return "", fmt.Errorf("invalid polarity response %q", line)
	}
	return code, nil
}
