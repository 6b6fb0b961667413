package field

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// ErrDomain is returned when a current triple has no defined spherical form,
// for example when the reconstructed magnitude is zero.
var ErrDomain = errors.New("field: undefined spherical conversion")

// Coefficients is the linear calibration of one axis:
// field = current*Slope + Intercept.
type Coefficients struct {
	Slope     float64 `json:"slope"`
	Intercept float64 `json:"intercept"`
}

// Validate checks that the coefficients can be inverted.
func (c Coefficients) Validate() error {
	if !isFinite(c.Slope) || !isFinite(c.Intercept) {
		return fmt.Errorf("coefficients must be finite, got slope=%v intercept=%v", c.Slope, c.Intercept)
	}
	if c.Slope == 0 {
		return errors.New("slope must be non-zero")
	}
	return nil
}

// FieldToCurrent returns the current that produces the projected field value.
func (c Coefficients) FieldToCurrent(projected float64) float64 {
	return (projected - c.Intercept) / c.Slope
}

// CurrentToField is the exact inverse of FieldToCurrent.
func (c Coefficients) CurrentToField(current float64) float64 {
	return current*c.Slope + c.Intercept
}

// Calibration holds one Coefficients entry per axis, indexed by Axis.
type Calibration [NumAxes]Coefficients

// Validate checks every axis.
func (cal Calibration) Validate() error {
	for _, a := range Axes {
		if err := cal[a].Validate(); err != nil {
			return fmt.Errorf("axis %s: %w", a, err)
		}
	}
	return nil
}

// Project returns the Cartesian components of f.
func Project(f FieldVector) r3.Vec {
	sinPol, cosPol := math.Sincos(f.Polar)
	sinAz, cosAz := math.Sincos(f.Azimuth)
	return r3.Vec{
		X: f.Magnitude * sinPol * cosAz,
		Y: f.Magnitude * sinPol * sinAz,
		Z: f.Magnitude * cosPol,
	}
}

// FromComponents converts Cartesian field components to spherical form.
// The azimuth uses the two-argument arctangent so it is defined on the
// axis boundaries. A zero magnitude leaves the polar angle undefined and
// yields ErrDomain.
func FromComponents(v r3.Vec) (FieldVector, error) {
	if !isFinite(v.X) || !isFinite(v.Y) || !isFinite(v.Z) {
		return FieldVector{}, fmt.Errorf("%w: non-finite component %v", ErrDomain, v)
	}
	mag := r3.Norm(v)
	if mag == 0 {
		return FieldVector{}, fmt.Errorf("%w: zero magnitude has no polar angle", ErrDomain)
	}
	// rounding can push the ratio a hair outside [-1, 1]
	ratio := math.Max(-1, math.Min(1, v.Z/mag))
	return FieldVector{
		Magnitude: mag,
		Azimuth:   math.Atan2(v.Y, v.X),
		Polar:     math.Acos(ratio),
	}, nil
}

// Components returns the per-axis field values produced by the currents.
func (cal Calibration) Components(c CurrentTriple) r3.Vec {
	return r3.Vec{
		X: cal[X].CurrentToField(c.X),
		Y: cal[Y].CurrentToField(c.Y),
		Z: cal[Z].CurrentToField(c.Z),
	}
}

// Field reconstructs the field vector produced by a signed current triple.
func (cal Calibration) Field(c CurrentTriple) (FieldVector, error) {
	return FromComponents(cal.Components(c))
}

// Currents converts a target field to signed per-axis currents, clipping each
// axis to its limits. Clipped axes are reported, never treated as errors.
func (cal Calibration) Currents(target FieldVector, limits AxisLimits) (CurrentTriple, Clips) {
	proj := Project(target)
	values := [NumAxes]float64{proj.X, proj.Y, proj.Z}

	var out CurrentTriple
	var clips Clips
	for _, a := range Axes {
		current, note := Clip(cal[a], values[a], limits[a])
		out.Set(a, current)
		if note != NotClipped {
			clips = append(clips, ClipEvent{
				Axis:      a,
				Note:      note,
				Requested: cal[a].FieldToCurrent(values[a]),
				Applied:   current,
			})
		}
	}
	return out, clips
}
