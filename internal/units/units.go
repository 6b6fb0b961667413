// Package units provides shared constants and conversion for magnetic field
// units. Calibrations work in millitesla.
package units

import "github.com/banshee-data/helmholtz/internal/field"

// Unit constants
const (
	MilliTesla = "mT"
	Gauss      = "G"
	MicroTesla = "uT"
)

// ValidUnits contains all valid unit values
var ValidUnits = []string{MilliTesla, Gauss, MicroTesla}

// millitesla per unit
var scale = map[string]float64{
	MilliTesla: 1,
	Gauss:      0.1,
	MicroTesla: 0.001,
}

// IsValid checks if the given unit is in the list of valid units
func IsValid(unit string) bool {
	_, ok := scale[unit]
	return ok
}

// GetValidUnitsString returns a comma-separated string of valid units for error messages
func GetValidUnitsString() string {
	return "mT, G, uT"
}

// ToMilliTesla converts a magnitude in unit to millitesla. Unknown units are
// treated as millitesla.
func ToMilliTesla(v float64, unit string) float64 {
	if s, ok := scale[unit]; ok {
		return v * s
	}
	return v
}

// FromMilliTesla converts a magnitude in millitesla to unit.
func FromMilliTesla(v float64, unit string) float64 {
	if s, ok := scale[unit]; ok {
		return v / s
	}
	return v
}

// FieldToMilliTesla rescales the magnitude of f. Angles are unchanged.
func FieldToMilliTesla(f field.FieldVector, unit string) field.FieldVector {
	f.Magnitude = ToMilliTesla(f.Magnitude, unit)
	return f
}

// FieldFromMilliTesla rescales the magnitude of f into unit.
func FieldFromMilliTesla(f field.FieldVector, unit string) field.FieldVector {
	f.Magnitude = FromMilliTesla(f.Magnitude, unit)
	return f
}
