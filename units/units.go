// Package units converts lengths between the units a grid scan is described in.
package units

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/floats"
)

// Unit is a length unit
type Unit string

const (
	// Nanometer is 1e-9 m
	Nanometer Unit = "nm"

	// Micrometer is 1e-6 m
	Micrometer Unit = "um"

	// Millimeter is 1e-3 m
	Millimeter Unit = "mm"

	// Meter is the base unit scan coordinates are expressed in
	Meter Unit = "m"
)

var (
	// ErrUnknownUnit is generated when a unit is not in the conversion table
	ErrUnknownUnit = errors.New("unit not understood, valid units are nm, um, mm, m")

	// conversion maps units to the decimal exponent of their size in meters
	conversion = map[Unit]int{
		Nanometer:  -9,
		Micrometer: -6,
		Millimeter: -3,
		Meter:      0,
	}
)

// Parse converts a string to a Unit.  It is case insensitive and accepts µm
// as an alias for um.
func Parse(s string) (Unit, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "µm" || s == "μm" {
		s = "um"
	}
	u := Unit(s)
	if _, ok := conversion[u]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownUnit, s)
	}
	return u, nil
}

// Valid returns true if the unit is in the conversion table
func (u Unit) Valid() bool {
	_, ok := conversion[u]
	return ok
}

// Factor returns the size of one u in meters
func (u Unit) Factor() (float64, error) {
	e, ok := conversion[u]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownUnit, string(u))
	}
	return math.Pow10(e), nil
}

// ToMeters converts v expressed in u to meters
func ToMeters(v float64, u Unit) (float64, error) {
	f, err := u.Factor()
	if err != nil {
		return 0, err
	}
	return v * f, nil
}

// FromMeters converts v in meters to u
func FromMeters(v float64, u Unit) (float64, error) {
	f, err := u.Factor()
	if err != nil {
		return 0, err
	}
	return v / f, nil
}

// Ratio returns the multiplier that converts a value in from to a value in to.
// It is an exact power of ten, so um to nm is exactly 1000.
func Ratio(from, to Unit) (float64, error) {
	ef, ok := conversion[from]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownUnit, string(from))
	}
	et, ok := conversion[to]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownUnit, string(to))
	}
	return math.Pow10(ef - et), nil
}

// Rescale returns a copy of values, converted from one unit to another.  The
// physical quantity is unchanged; 1 um becomes 1000 nm.  The input is not
// modified.
func Rescale(values []float64, from, to Unit) ([]float64, error) {
	r, err := Ratio(from, to)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(values))
	copy(out, values)
	if from != to {
		floats.Scale(r, out)
	}
	return out, nil
}
