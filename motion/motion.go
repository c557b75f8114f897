// Package motion contains the interfaces a grid scan uses to drive a
// positioning stage, and a few stages that satisfy them.
package motion

import (
	"errors"
	"sync"
)

var (
	// ErrUnknownAxis is generated when a stage is asked about an axis it does not have
	ErrUnknownAxis = errors.New("axis not known to stage")
)

// Mover describes the position-related methods a scan needs from a stage.
// Positions are in the stage's own units.
type Mover interface {
	// GetPos gets the current position of an axis
	GetPos(string) (float64, error)

	// MoveAbs moves an axis to an absolute position, blocking until the move completes
	MoveAbs(string, float64) error
}

// Homer is a stage that can home its axes
type Homer interface {
	// Home homes an axis
	Home(string) error
}

// RelativeMover is a stage that can move its axes by a relative amount
type RelativeMover interface {
	// MoveRel moves an axis a relative amount
	MoveRel(string, float64) error
}

// AxisLister is a stage that knows which axes it has
type AxisLister interface {
	// Axes returns the identifiers of the stage's axes
	Axes() []string
}

// Exclusive serializes every call to the wrapped stage.  Holding it across a
// sequence of calls (Lock/Unlock) keeps other goroutines off the hardware.
type Exclusive struct {
	sync.Mutex

	m Mover
}

// NewExclusive wraps m
func NewExclusive(m Mover) *Exclusive {
	return &Exclusive{m: m}
}

// Unwrap returns the wrapped stage
func (e *Exclusive) Unwrap() Mover {
	return e.m
}

// Axes returns the axes of the wrapped stage, or nil if it is not an AxisLister
func (e *Exclusive) Axes() []string {
	l, ok := e.m.(AxisLister)
	if !ok {
		return nil
	}
	return l.Axes()
}

// GetPos calls GetPos on the wrapped stage with the lock held
func (e *Exclusive) GetPos(axis string) (float64, error) {
	e.Lock()
	defer e.Unlock()
	return e.m.GetPos(axis)
}

// MoveAbs calls MoveAbs on the wrapped stage with the lock held
func (e *Exclusive) MoveAbs(axis string, pos float64) error {
	e.Lock()
	defer e.Unlock()
	return e.m.MoveAbs(axis, pos)
}

// Home calls Home on the wrapped stage with the lock held, if it is a Homer
func (e *Exclusive) Home(axis string) error {
	h, ok := e.m.(Homer)
	if !ok {
		return errors.New("stage cannot home")
	}
	e.Lock()
	defer e.Unlock()
	return h.Home(axis)
}

// MoveRel calls MoveRel on the wrapped stage with the lock held.  Stages that
// do not implement RelativeMover are emulated with GetPos and MoveAbs.
func (e *Exclusive) MoveRel(axis string, dPos float64) error {
	e.Lock()
	defer e.Unlock()
	if r, ok := e.m.(RelativeMover); ok {
		return r.MoveRel(axis, dPos)
	}
	pos, err := e.m.GetPos(axis)
	if err != nil {
		return err
	}
	return e.m.MoveAbs(axis, pos+dPos)
}
