// Package field maps magnetic field vectors to per-axis coil currents and back
// using linear per-axis calibration.
//
// Field values are in the calibration unit (mT for the lab coil), angles are
// in radians and currents are in amperes.
package field

import (
	"fmt"
	"math"
	"strings"
)

// Axis identifies one coil pair of the tri-axial coil.
type Axis int

const (
	X Axis = iota
	Y
	Z
)

// NumAxes is the number of coil axes.
const NumAxes = 3

// Axes lists the axes in wire order.
var Axes = [NumAxes]Axis{X, Y, Z}

func (a Axis) String() string {
	switch a {
	case X:
		return "X"
	case Y:
		return "Y"
	case Z:
		return "Z"
	default:
		return fmt.Sprintf("Axis(%d)", int(a))
	}
}

// MarshalText encodes the axis as its letter.
func (a Axis) MarshalText() ([]byte, error) {
	if a < X || a > Z {
		return nil, fmt.Errorf("invalid axis %d", int(a))
	}
	return []byte(a.String()), nil
}

// UnmarshalText accepts "X", "Y" or "Z" in either case.
func (a *Axis) UnmarshalText(b []byte) error {
	parsed, err := ParseAxis(string(b))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// ParseAxis parses an axis letter.
func ParseAxis(s string) (Axis, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "X":
		return X, nil
	case "Y":
		return Y, nil
	case "Z":
		return Z, nil
	}
	return 0, fmt.Errorf("unknown axis %q: expected X, Y or Z", s)
}

// FieldVector is a field in spherical form about the lab frame.
type FieldVector struct {
	Magnitude float64 `json:"magnitude"`
	Azimuth   float64 `json:"azimuth"`
	Polar     float64 `json:"polar"`
}

// Finite reports whether all three components are finite numbers.
func (f FieldVector) Finite() bool {
	return isFinite(f.Magnitude) && isFinite(f.Azimuth) && isFinite(f.Polar)
}

func (f FieldVector) String() string {
	return fmt.Sprintf("|B|=%.4g az=%.4g pol=%.4g", f.Magnitude, f.Azimuth, f.Polar)
}

// CurrentTriple holds signed per-axis currents. The sign is the intended
// polarity; the supply itself only takes magnitudes.
type CurrentTriple struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Get returns the current on axis a.
func (c CurrentTriple) Get(a Axis) float64 {
	switch a {
	case X:
		return c.X
	case Y:
		return c.Y
	default:
		return c.Z
	}
}

// Set stores v on axis a.
func (c *CurrentTriple) Set(a Axis, v float64) {
	switch a {
	case X:
		c.X = v
	case Y:
		c.Y = v
	default:
		c.Z = v
	}
}

// Abs returns the per-axis magnitudes.
func (c CurrentTriple) Abs() CurrentTriple {
	return CurrentTriple{X: math.Abs(c.X), Y: math.Abs(c.Y), Z: math.Abs(c.Z)}
}

// Finite reports whether every axis holds a finite value.
func (c CurrentTriple) Finite() bool {
	return isFinite(c.X) && isFinite(c.Y) && isFinite(c.Z)
}

func (c CurrentTriple) String() string {
	return fmt.Sprintf("[%.6f %.6f %.6f]A", c.X, c.Y, c.Z)
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
