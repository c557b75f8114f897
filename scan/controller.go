package scan

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/ffffffrank/nplab/grid"
	"github.com/ffffffrank/nplab/motion"
	"github.com/ffffffrank/nplab/units"
	"github.com/ffffffrank/nplab/util"
)

const (
	// DefaultUpdateRate is the number of progress notifications per second
	// a Controller sends
	DefaultUpdateRate = 10.

	// DefaultEstimatedStepTime is the time per point assumed by
	// EstimateScanDuration
	DefaultEstimatedStepTime = time.Millisecond
)

// Event is a notification sent to observers of a Controller
type Event struct {
	Kind    EventKind
	ScanID  string
	Status  Status
	Message string
	Aborted bool

	// Linear is the number of points measured of Total
	Linear int
	Total  int

	// ETA is the estimated time remaining
	ETA time.Duration

	// MeanStepTime is the mean time spent per point so far
	MeanStepTime time.Duration

	// Final is true for the last notification of a scan
	Final bool

	Err error
}

// Observer receives events.  Observers are called on the goroutine running
// the scan and must not block or call Abort or Wait.
type Observer func(Event)

// Controller runs one scan at a time on a background goroutine and answers
// progress queries from any goroutine
type Controller struct {
	// EstimatedStepTime is used by EstimateScanDuration
	EstimatedStepTime time.Duration

	// StageLock, if not nil, is held for the duration of every scan
	StageLock sync.Locker

	engine  *Engine
	stage   *motion.Exclusive
	limiter *rate.Limiter
	abort   atomic.Bool

	mu      sync.Mutex
	params  grid.Params
	state   *State
	running bool
	done    chan struct{}
	err     error

	omu       sync.RWMutex
	observers []Observer
}

// NewController returns a controller which moves stage and calls m at every
// point of the grid described by p.  Every stage call the controller makes is
// serialized through a motion.Exclusive.
func NewController(stage motion.Mover, m Measurer, p grid.Params) *Controller {
	ex, ok := stage.(*motion.Exclusive)
	if !ok {
		ex = motion.NewExclusive(stage)
	}
	c := &Controller{
		EstimatedStepTime: DefaultEstimatedStepTime,
		engine:            NewEngine(ex, m),
		stage:             ex,
		limiter:           rate.NewLimiter(rate.Limit(DefaultUpdateRate), 1),
		params:            p.Copy(),
	}
	c.engine.Notify = c.notify
	return c
}

// Engine returns the engine, so that its StageUnit and Limits may be set
// before the first scan
func (c *Controller) Engine() *Engine {
	return c.engine
}

// Stage returns the exclusive wrapper around the stage
func (c *Controller) Stage() *motion.Exclusive {
	return c.stage
}

// SetUpdateRate sets the number of progress notifications per second.  A rate
// of zero or less disables throttling.
func (c *Controller) SetUpdateRate(hz float64) {
	if hz <= 0 {
		c.limiter.SetLimit(rate.Inf)
		return
	}
	c.limiter.SetLimit(rate.Limit(hz))
}

// Subscribe adds an observer
func (c *Controller) Subscribe(o Observer) {
	c.omu.Lock()
	defer c.omu.Unlock()
	c.observers = append(c.observers, o)
}

func (c *Controller) publish(ev Event) {
	c.omu.RLock()
	defer c.omu.RUnlock()
	for _, o := range c.observers {
		o(ev)
	}
}

func (c *Controller) notify(st *State, kind EventKind, force bool) {
	if kind == EventProgress && !force && !c.limiter.Allow() {
		return
	}
	snap := st.Snapshot()
	ev := Event{
		Kind:    kind,
		ScanID:  snap.ID,
		Status:  st.Status(),
		Message: snap.Message,
		Aborted: snap.Aborted,
		Linear:  snap.Linear,
		Total:   snap.Total,
		ETA:     snap.ETA,
		Final:   force,
		Err:     st.Err(),
	}
	if mean, ok := MeanStepTime(snap.StepTimes); ok {
		ev.MeanStepTime = util.SecsToDuration(mean)
	}
	c.publish(ev)
}

// Start builds the grid and begins a scan on a background goroutine.  It
// returns once the scan is running, so progress may be polled immediately.
// Calling Start while a scan runs logs a warning and does nothing.  Grid
// errors are returned before the stage is touched.
func (c *Controller) Start() error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		log.Println("scan: start ignored:", ErrAlreadyRunning)
		return nil
	}
	g, err := c.params.Build()
	if err == nil {
		err = c.engine.Check(g)
	}
	if err != nil {
		c.mu.Unlock()
		return err
	}
	done := make(chan struct{})
	c.running = true
	c.done = done
	c.err = nil
	c.abort.Store(false)
	c.mu.Unlock()

	if is, ok := c.engine.Measurer.(InitScanner); ok {
		if err := is.InitScan(); err != nil {
			err = fmt.Errorf("init scan: %w", err)
			c.mu.Lock()
			c.running = false
			c.err = err
			c.mu.Unlock()
			close(done)
			return err
		}
	}

	st := NewState(g)
	c.mu.Lock()
	c.state = st
	c.mu.Unlock()

	go func() {
		defer close(done)
		if c.StageLock != nil {
			c.StageLock.Lock()
			defer c.StageLock.Unlock()
		}
		err := c.engine.Run(g, st, &c.abort)
		if err != nil {
			log.Printf("scan %s failed: %v\n", st.ID(), err)
		}
		c.mu.Lock()
		c.err = err
		c.running = false
		c.mu.Unlock()
	}()

	select {
	case <-st.Started():
		if st.Status() == Failed {
			<-done
			return c.Err()
		}
	case <-done:
		return c.Err()
	}
	return nil
}

// Abort asks the running scan to stop and blocks until it has returned the
// stage to the origin and exited
func (c *Controller) Abort() error {
	c.mu.Lock()
	running, done := c.running, c.done
	c.mu.Unlock()
	if !running {
		return ErrNotRunning
	}
	c.abort.Store(true)
	<-done
	return nil
}

// Wait blocks until the current scan, if any, exits and returns its error
func (c *Controller) Wait() error {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done != nil {
		<-done
	}
	return c.Err()
}

// IsRunning returns true while a scan goroutine exists
func (c *Controller) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Err returns the error of the last scan, if it failed
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Controller) current() *State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// State returns a snapshot of the current or last scan.  ok is false if no
// scan has been started.
func (c *Controller) State() (snap Snapshot, ok bool) {
	st := c.current()
	if st == nil {
		return Snapshot{Status: Inactive.String()}, false
	}
	return st.Snapshot(), true
}

// Status returns the status of the current or last scan
func (c *Controller) Status() Status {
	st := c.current()
	if st == nil {
		return Inactive
	}
	return st.Status()
}

// Progress returns the number of points measured and the number in the grid
// of the current or last scan
func (c *Controller) Progress() (int, int) {
	st := c.current()
	if st == nil {
		return 0, 0
	}
	return st.Progress()
}

// EstimatedTimeRemaining returns the time the current scan needs to finish,
// zero once it is over.  ok is false before any scan has been started.
func (c *Controller) EstimatedTimeRemaining() (d time.Duration, ok bool) {
	st := c.current()
	if st == nil {
		return 0, false
	}
	return st.Remaining(), true
}

// Params returns a copy of the grid parameters
func (c *Controller) Params() grid.Params {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.params.Copy()
}

// SetParams replaces the grid parameters.  A running scan is unaffected.
func (c *Controller) SetParams(p grid.Params) error {
	return c.UpdateParams(func(cur *grid.Params) error {
		*cur = p.Copy()
		return nil
	})
}

// UpdateParams calls fcn on a copy of the parameters and stores the result if
// fcn succeeds and the result is valid
func (c *Controller) UpdateParams(fcn func(*grid.Params) error) error {
	c.mu.Lock()
	p := c.params.Copy()
	if err := fcn(&p); err != nil {
		c.mu.Unlock()
		return err
	}
	if err := p.Validate(); err != nil {
		c.mu.Unlock()
		return err
	}
	c.params = p
	c.mu.Unlock()
	c.publish(Event{Kind: EventParams, Status: c.Status()})
	return nil
}

// Grid builds the grid the next scan would use
func (c *Controller) Grid() (grid.Grid, error) {
	return c.Params().Build()
}

// EstimateScanDuration returns the number of points in the grid times
// EstimatedStepTime
func (c *Controller) EstimateScanDuration() (time.Duration, error) {
	g, err := c.Grid()
	if err != nil {
		return 0, err
	}
	return time.Duration(g.Total) * c.EstimatedStepTime, nil
}

// SetInitToCurrentPosition reads every axis from the stage and makes its
// position the center of the grid
func (c *Controller) SetInitToCurrentPosition() error {
	if c.IsRunning() {
		return ErrAlreadyRunning
	}
	p := c.Params()
	su := c.engine.stageUnit()
	for i, ax := range p.Axes {
		pos, err := c.stage.GetPos(ax)
		if err != nil {
			return fmt.Errorf("get position of %s: %w", ax, err)
		}
		m, err := units.ToMeters(pos, su)
		if err != nil {
			return err
		}
		p.Init[i], err = units.FromMeters(m, p.InitUnit)
		if err != nil {
			return err
		}
	}
	return c.SetParams(p)
}
