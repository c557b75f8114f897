package motion

import (
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"
)

// Move is one entry in a MockStage's log
type Move struct {
	Axis string
	Pos  float64
}

// MockStage is an in-memory stage.  Moves complete after MoveTime plus
// optional positioning error, and every MoveAbs is recorded.
type MockStage struct {
	sync.Mutex

	// MoveTime is how long each move blocks for
	MoveTime time.Duration

	// PositioningError is the half-width of the uniform error added to each move
	PositioningError float64

	// FailAfter, if positive, makes the FailAfter-th and later MoveAbs calls return an error
	FailAfter int

	axes  map[string]bool
	pos   map[string]float64
	homed map[string]bool
	log   []Move
}

// NewMockStage returns a mock stage with the given axes, all at zero
func NewMockStage(axes ...string) *MockStage {
	m := &MockStage{
		axes:  make(map[string]bool),
		pos:   make(map[string]float64),
		homed: make(map[string]bool),
	}
	for _, a := range axes {
		m.axes[a] = true
	}
	return m
}

func (m *MockStage) check(axis string) error {
	if !m.axes[axis] {
		return fmt.Errorf("%w: %q", ErrUnknownAxis, axis)
	}
	return nil
}

// Axes returns the sorted axis identifiers of the stage
func (m *MockStage) Axes() []string {
	m.Lock()
	defer m.Unlock()
	out := make([]string, 0, len(m.axes))
	for a := range m.axes {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// GetPos returns the position of an axis
func (m *MockStage) GetPos(axis string) (float64, error) {
	m.Lock()
	defer m.Unlock()
	if err := m.check(axis); err != nil {
		return 0, err
	}
	return m.pos[axis], nil
}

// MoveAbs moves an axis to pos
func (m *MockStage) MoveAbs(axis string, pos float64) error {
	m.Lock()
	if err := m.check(axis); err != nil {
		m.Unlock()
		return err
	}
	if m.FailAfter > 0 && len(m.log)+1 >= m.FailAfter {
		m.Unlock()
		return fmt.Errorf("mock stage: injected failure moving %s to %g", axis, pos)
	}
	m.log = append(m.log, Move{Axis: axis, Pos: pos})
	dt := m.MoveTime
	if m.PositioningError != 0 {
		pos += (rand.Float64()*2 - 1) * m.PositioningError
	}
	m.pos[axis] = pos
	m.Unlock()
	if dt > 0 {
		time.Sleep(dt)
	}
	return nil
}

// MoveRel moves an axis by dPos
func (m *MockStage) MoveRel(axis string, dPos float64) error {
	pos, err := m.GetPos(axis)
	if err != nil {
		return err
	}
	return m.MoveAbs(axis, pos+dPos)
}

// Home sends an axis to zero
func (m *MockStage) Home(axis string) error {
	m.Lock()
	defer m.Unlock()
	if err := m.check(axis); err != nil {
		return err
	}
	m.pos[axis] = 0
	m.homed[axis] = true
	return nil
}

// Moves returns a copy of every successful MoveAbs so far
func (m *MockStage) Moves() []Move {
	m.Lock()
	defer m.Unlock()
	out := make([]Move, len(m.log))
	copy(out, m.log)
	return out
}

// ResetLog clears the move log
func (m *MockStage) ResetLog() {
	m.Lock()
	defer m.Unlock()
	m.log = nil
}
