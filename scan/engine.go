// Package scan drives a positioning stage through a multi-dimensional grid,
// measuring at every point, and reports progress while it does so.
//
// Axis 0 of the grid is the fastest.  Every axis but the outermost is walked
// in snake order: its direction reverses each time the axis above it steps,
// so the stage never flies back across the grid between passes.
package scan

import (
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/ffffffrank/nplab/grid"
	"github.com/ffffffrank/nplab/motion"
	"github.com/ffffffrank/nplab/units"
	"github.com/ffffffrank/nplab/util"
)

// Measurer is called at every point of the grid
type Measurer interface {
	// Measure is called with the indices of the current point.  The slice is
	// only valid for the duration of the call.
	Measure(indices []int) error
}

// MeasureFunc adapts a function to a Measurer
type MeasureFunc func(indices []int) error

// Measure calls f
func (f MeasureFunc) Measure(indices []int) error {
	return f(indices)
}

// InitScanner is a Measurer that wants to prepare before a scan is started.
// InitScan runs on the goroutine that calls Start.
type InitScanner interface {
	InitScan() error
}

// Opener is a Measurer that wants to know the grid before the traversal begins
type Opener interface {
	OpenScan(grid.Grid) error
}

// DriftCompensator is a Measurer that corrects drift each time the outermost
// axis steps, including before its first step
type DriftCompensator interface {
	CompensateDrift() error
}

// Analyser is a Measurer that processes the scan after return-to-origin
type Analyser interface {
	AnalyseScan(Snapshot) error
}

// Closer is a Measurer that wants to be told the scan is over
type Closer interface {
	CloseScan() error
}

// EventKind distinguishes notifications sent by the engine
type EventKind int

const (
	// EventStatus is sent when the status or message changes
	EventStatus EventKind = iota

	// EventProgress is sent after every point
	EventProgress

	// EventParams is sent when the parameters of a Controller change
	EventParams
)

func (k EventKind) String() string {
	switch k {
	case EventStatus:
		return "status"
	case EventProgress:
		return "progress"
	case EventParams:
		return "params"
	default:
		return "unknown"
	}
}

// Engine walks a grid.  It holds no per-scan state and may be reused.
type Engine struct {
	// Stage moves the axes
	Stage motion.Mover

	// StageUnit is the unit the stage accepts and reports positions in
	StageUnit units.Unit

	// Limits holds per-axis software limits in StageUnit
	Limits map[string]util.Limiter

	// Measurer is called at every point
	Measurer Measurer

	// Notify, if not nil, is called with the state after every change.  force
	// is true for the final notification of a scan, which must not be dropped.
	Notify func(st *State, kind EventKind, force bool)
}

// NewEngine returns an engine with StageUnit set to micrometers
func NewEngine(stage motion.Mover, m Measurer) *Engine {
	return &Engine{Stage: stage, StageUnit: units.Micrometer, Measurer: m}
}

func (e *Engine) notify(st *State, kind EventKind, force bool) {
	if e.Notify != nil {
		e.Notify(st, kind, force)
	}
}

func (e *Engine) stageUnit() units.Unit {
	if e.StageUnit == "" {
		return units.Micrometer
	}
	return e.StageUnit
}

// stageCoords converts the coordinates of every axis of g into stage units
func (e *Engine) stageCoords(g grid.Grid) ([][]float64, []float64, error) {
	u := e.stageUnit()
	coords := make([][]float64, len(g.Axes))
	centers := make([]float64, len(g.Axes))
	for i, ax := range g.Axes {
		c, err := units.Rescale(ax.Coords, units.Meter, u)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: stage unit: %v", ErrInvalidGridConfig, err)
		}
		coords[i] = c
		centers[i], _ = units.FromMeters(ax.Center, u)
	}
	return coords, centers, nil
}

// Check verifies the grid can be scanned without violating the stage's
// software limits, and that the stage has every axis of the grid when it can
// list them.  No hardware is moved.
func (e *Engine) Check(g grid.Grid) error {
	if len(g.Axes) == 0 || g.Total <= 0 {
		return fmt.Errorf("%w: empty grid", ErrInvalidGridConfig)
	}
	if e.Stage == nil || e.Measurer == nil {
		return fmt.Errorf("%w: engine needs a stage and a measurer", ErrInvalidGridConfig)
	}
	if l, ok := e.Stage.(motion.AxisLister); ok {
		if known := l.Axes(); known != nil {
			have := make(map[string]bool, len(known))
			for _, a := range known {
				have[a] = true
			}
			for _, ax := range g.Axes {
				if !have[ax.Axis] {
					return fmt.Errorf("%w: stage has no axis %q, it has %v", ErrInvalidGridConfig, ax.Axis, known)
				}
			}
		}
	}
	coords, centers, err := e.stageCoords(g)
	if err != nil {
		return err
	}
	for i, ax := range g.Axes {
		lim, ok := e.Limits[ax.Axis]
		if !ok {
			continue
		}
		if !lim.Check(centers[i]) {
			return limitErr(ax.Axis, centers[i], e.stageUnit(), lim)
		}
		for _, c := range coords[i] {
			if !lim.Check(c) {
				return limitErr(ax.Axis, c, e.stageUnit(), lim)
			}
		}
	}
	return nil
}

func limitErr(axis string, pos float64, u units.Unit, lim util.Limiter) error {
	return fmt.Errorf("%w: axis %s reaches %g %s, outside limits [%g, %g]",
		ErrInvalidGridConfig, axis, pos, u, lim.Min, lim.Max)
}

type traversal struct {
	e      *Engine
	g      grid.Grid
	st     *State
	abort  *atomic.Bool
	coords [][]float64

	idx     []int
	reverse []bool
}

func (t *traversal) aborted() bool {
	return t.abort != nil && t.abort.Load()
}

func (t *traversal) indices() []int {
	return append([]int(nil), t.idx...)
}

// walk iterates axis, recursing into the axis below it at every step
func (t *traversal) walk(axis int) error {
	outer := len(t.g.Shape) - 1
	n := t.g.Shape[axis]
	rev := t.reverse[axis]
	for k := 0; k < n; k++ {
		if t.aborted() {
			return nil
		}
		i := k
		if rev {
			i = n - 1 - k
		}
		t.idx[axis] = i
		if axis == outer {
			if dc, ok := t.e.Measurer.(DriftCompensator); ok {
				if err := dc.CompensateDrift(); err != nil {
					return &MeasurementError{Op: "drift", Indices: t.indices(), Err: err}
				}
			}
			if outer > 0 {
				t.st.setMessage(fmt.Sprintf("Scanning layer %d/%d", k+1, n))
				t.e.notify(t.st, EventStatus, false)
			}
		}
		ax := t.g.Axes[axis].Axis
		if err := t.e.Stage.MoveAbs(ax, t.coords[axis][i]); err != nil {
			return &MeasurementError{Op: "move", Axis: ax, Indices: t.indices(), Err: err}
		}
		if axis == 0 {
			if err := t.point(); err != nil {
				return err
			}
			continue
		}
		if err := t.walk(axis - 1); err != nil {
			return err
		}
	}
	t.reverse[axis] = !rev
	return nil
}

func (t *traversal) point() error {
	begin := time.Now()
	err := t.measure()
	dt := time.Since(begin)
	if err != nil {
		return &MeasurementError{Op: "measure", Indices: t.indices(), Err: err}
	}
	t.st.record(t.idx, t.g.Flat(t.idx), dt)
	t.e.notify(t.st, EventProgress, false)
	return nil
}

func (t *traversal) measure() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return t.e.Measurer.Measure(t.indices())
}

// returnToOrigin moves every axis to its center.  Every axis is attempted;
// the first error is returned.
func (e *Engine) returnToOrigin(g grid.Grid, centers []float64) error {
	var first error
	for i, ax := range g.Axes {
		err := e.Stage.MoveAbs(ax.Axis, centers[i])
		if err != nil {
			log.Printf("scan: return of axis %s to %g failed: %v\n", ax.Axis, centers[i], err)
			if first == nil {
				first = &MeasurementError{Op: "return", Axis: ax.Axis, Err: err}
			}
		}
	}
	return first
}

func (e *Engine) status(st *State, s Status, msg string) {
	st.setStatus(s, msg)
	e.notify(st, EventStatus, false)
}

// fail marks the scan failed and sends the final notification
func (e *Engine) fail(st *State, err error) error {
	st.setErr(err)
	st.setStatus(Failed, err.Error())
	e.notify(st, EventStatus, true)
	return err
}

// Run scans g, recording progress in st, until the grid is exhausted or abort
// is set.  The stage is always sent back to the grid's center before Run
// returns, even when a move or measurement fails.  An aborted scan is not an
// error.
func (e *Engine) Run(g grid.Grid, st *State, abort *atomic.Bool) error {
	coords, centers, err := e.stageCoords(g)
	if err != nil {
		return e.fail(st, err)
	}
	if o, ok := e.Measurer.(Opener); ok {
		if err := o.OpenScan(g); err != nil {
			return e.fail(st, fmt.Errorf("open scan: %w", err))
		}
	}
	t := &traversal{
		e:       e,
		g:       g,
		st:      st,
		abort:   abort,
		coords:  coords,
		idx:     make([]int, len(g.Shape)),
		reverse: make([]bool, len(g.Shape)),
	}
	e.status(st, Running, "Scanning")
	begin := time.Now()
	err = t.walk(len(g.Shape) - 1)
	log.Printf("scan %s: traversal took %s\n", st.ID(), FormatDuration(time.Since(begin)))

	switch {
	case err != nil:
		log.Printf("scan %s: %v, returning to origin\n", st.ID(), err)
	case t.aborted():
		st.setAborted()
		e.status(st, Aborting, "Aborting")
	default:
		e.status(st, Completing, "Returning to origin")
	}
	rerr := e.returnToOrigin(g, centers)
	if err != nil {
		return e.fail(st, err)
	}
	if rerr != nil {
		return e.fail(st, rerr)
	}
	if a, ok := e.Measurer.(Analyser); ok {
		if err := a.AnalyseScan(st.Snapshot()); err != nil {
			return e.fail(st, fmt.Errorf("analyse scan: %w", err))
		}
	}
	if c, ok := e.Measurer.(Closer); ok {
		if err := c.CloseScan(); err != nil {
			return e.fail(st, fmt.Errorf("close scan: %w", err))
		}
	}
	msg := "Scan complete"
	if t.aborted() {
		msg = "Scan aborted"
	}
	st.setStatus(Complete, msg)
	e.notify(st, EventStatus, true)
	return nil
}
