package field

import (
	"fmt"
	"math"
)

// Limits bounds the drive current of an axis.
type Limits struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Validate requires Min < Max and finite bounds.
func (l Limits) Validate() error {
	if !isFinite(l.Min) || !isFinite(l.Max) {
		return fmt.Errorf("limits must be finite, got [%v, %v]", l.Min, l.Max)
	}
	if l.Min >= l.Max {
		return fmt.Errorf("limits min %v must be below max %v", l.Min, l.Max)
	}
	return nil
}

// Contains reports whether current lies inside the closed interval.
func (l Limits) Contains(current float64) bool {
	return l.Min <= current && current <= l.Max
}

// AxisLimits holds per-axis limits, indexed by Axis.
type AxisLimits [NumAxes]Limits

// SharedLimits applies the same bounds to every axis.
func SharedLimits(min, max float64) AxisLimits {
	l := Limits{Min: min, Max: max}
	return AxisLimits{l, l, l}
}

// Validate checks every axis.
func (al AxisLimits) Validate() error {
	for _, a := range Axes {
		if err := al[a].Validate(); err != nil {
			return fmt.Errorf("axis %s: %w", a, err)
		}
	}
	return nil
}

// ClipNote records which bound, if any, a current was pinned to.
type ClipNote int

const (
	NotClipped ClipNote = iota
	ClippedToMax
	ClippedToMin
)

func (n ClipNote) String() string {
	switch n {
	case ClippedToMax:
		return "clipped to max"
	case ClippedToMin:
		return "clipped to min"
	default:
		return ""
	}
}

// MarshalText encodes the note as its human readable form.
func (n ClipNote) MarshalText() ([]byte, error) {
	return []byte(n.String()), nil
}

// Clip converts a projected field value to a current and pins it to the
// limits. A NaN current is pinned to neither bound and is returned as is.
func Clip(c Coefficients, projected float64, limits Limits) (float64, ClipNote) {
	current := c.FieldToCurrent(projected)
	switch {
	case math.IsNaN(current), limits.Contains(current):
		return current, NotClipped
	case current > limits.Max:
		return limits.Max, ClippedToMax
	default:
		return limits.Min, ClippedToMin
	}
}

// ClipEvent describes one clipped axis.
type ClipEvent struct {
	Axis      Axis     `json:"axis"`
	Note      ClipNote `json:"note"`
	Requested float64  `json:"requested"`
	Applied   float64  `json:"applied"`
}

func (e ClipEvent) String() string {
	return fmt.Sprintf("%s %s (requested %.4fA, applied %.4fA)", e.Axis, e.Note, e.Requested, e.Applied)
}

// Clips is the set of clipped axes of one conversion, in axis order.
type Clips []ClipEvent

// Has reports whether axis a was clipped.
func (cs Clips) Has(a Axis) bool {
	for _, c := range cs {
		if c.Axis == a {
			return true
		}
	}
	return false
}

// Axes returns the clipped axes in order.
func (cs Clips) Axes() []Axis {
	out := make([]Axis, 0, len(cs))
	for _, c := range cs {
		out = append(out, c.Axis)
	}
	return out
}
