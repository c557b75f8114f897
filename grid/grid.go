// Package grid builds the coordinate arrays of a multi-axis grid scan and
// holds the editable parameters that describe one.
package grid

import (
	"errors"
	"fmt"
	"math"

	"github.com/ffffffrank/nplab/units"
)

// MaxPoints bounds the number of points on one axis and in the whole grid
const MaxPoints = 1 << 26

var (
	// ErrInvalidGridConfig is generated when an axis specification cannot produce a grid
	ErrInvalidGridConfig = errors.New("invalid grid configuration")
)

// AxisSpec describes one axis of a grid.  Size, Step and Center are all
// expressed in Unit.
type AxisSpec struct {
	// Axis is the stage axis identifier, e.g. "X"
	Axis string

	// Name is a human readable label
	Name string

	Size   float64
	Step   float64
	Center float64
	Unit   units.Unit
}

// Axis is one axis of a built grid.  Coords are in meters and must not be
// modified for the duration of a scan.
type Axis struct {
	Axis   string
	Name   string
	Center float64
	Coords []float64
}

// Len returns the number of points on the axis
func (a Axis) Len() int {
	return len(a.Coords)
}

// Grid is an immutable set of axes.  Axes[0] varies fastest during a scan and
// Axes[len-1] is the outermost (slow) axis.
type Grid struct {
	Axes  []Axis
	Shape []int
	Total int
}

// Build converts specs into a grid.  Each axis spans -size/2+center to
// +size/2+center in increments of step, inclusive of the upper bound within
// half a step.  A zero-size axis has a single point at its center.  Axis
// identifiers must be unique and not empty, and the grid may not hold more
// than MaxPoints points.
func Build(specs []AxisSpec) (Grid, error) {
	if len(specs) == 0 {
		return Grid{}, fmt.Errorf("%w: no axes", ErrInvalidGridConfig)
	}
	seen := make(map[string]bool, len(specs))
	for i, s := range specs {
		if s.Axis == "" {
			return Grid{}, fmt.Errorf("%w: axis %d has no identifier", ErrInvalidGridConfig, i)
		}
		if seen[s.Axis] {
			return Grid{}, fmt.Errorf("%w: axis %s appears more than once", ErrInvalidGridConfig, s.Axis)
		}
		seen[s.Axis] = true
	}
	g := Grid{
		Axes:  make([]Axis, len(specs)),
		Shape: make([]int, len(specs)),
		Total: 1,
	}
	for i, s := range specs {
		ax, err := buildAxis(s)
		if err != nil {
			return Grid{}, fmt.Errorf("%w: axis %d (%s): %v", ErrInvalidGridConfig, i, s.Axis, err)
		}
		if g.Total > MaxPoints/ax.Len() {
			return Grid{}, fmt.Errorf("%w: more than %d points", ErrInvalidGridConfig, MaxPoints)
		}
		g.Axes[i] = ax
		g.Shape[i] = ax.Len()
		g.Total *= ax.Len()
	}
	return g, nil
}

func buildAxis(s AxisSpec) (Axis, error) {
	f, err := s.Unit.Factor()
	if err != nil {
		return Axis{}, err
	}
	for _, v := range []float64{s.Size, s.Step, s.Center} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Axis{}, errors.New("size, step and center must be finite")
		}
	}
	size, step, center := s.Size*f, s.Step*f, s.Center*f
	if size < 0 {
		return Axis{}, errors.New("size must not be negative")
	}
	ax := Axis{Axis: s.Axis, Name: s.Name, Center: center}
	if size == 0 {
		ax.Coords = []float64{center}
		return ax, nil
	}
	if step <= 0 {
		return Axis{}, errors.New("step must be positive when size is nonzero")
	}
	nf := math.Ceil((size + step/2) / step)
	if math.IsNaN(nf) || math.IsInf(nf, 0) || nf > MaxPoints {
		return Axis{}, fmt.Errorf("step too small for size, more than %d points", MaxPoints)
	}
	n := int(nf)
	ax.Coords = make([]float64, n)
	for i := range ax.Coords {
		ax.Coords[i] = float64(i)*step - size/2 + center
	}
	return ax, nil
}

// Flat returns the offset of indices into a flat array of len Total, with
// axis 0 varying fastest.  It panics if indices is the wrong length.
func (g Grid) Flat(indices []int) int {
	if len(indices) != len(g.Shape) {
		panic(fmt.Sprintf("grid: %d indices for a %d axis grid", len(indices), len(g.Shape)))
	}
	off, stride := 0, 1
	for i, idx := range indices {
		off += idx * stride
		stride *= g.Shape[i]
	}
	return off
}

// Unflat is the inverse of Flat
func (g Grid) Unflat(off int) []int {
	out := make([]int, len(g.Shape))
	for i, n := range g.Shape {
		out[i] = off % n
		off /= n
	}
	return out
}

// Position returns the coordinates, in meters, of the point at indices
func (g Grid) Position(indices []int) []float64 {
	out := make([]float64, len(indices))
	for i, idx := range indices {
		out[i] = g.Axes[i].Coords[idx]
	}
	return out
}
