package scan

import (
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ffffffrank/nplab/grid"
)

// Status is the lifecycle stage of a scan
type Status int

const (
	// Inactive means no scan has run yet
	Inactive Status = iota

	// Running means the grid is being traversed
	Running

	// Completing means the traversal finished and the scan is cleaning up
	Completing

	// Aborting means an abort was honored and the scan is cleaning up
	Aborting

	// Complete means the scan finished, possibly after an abort
	Complete

	// Failed means the stage or the measurement returned an error
	Failed
)

func (s Status) String() string {
	switch s {
	case Inactive:
		return "inactive"
	case Running:
		return "running"
	case Completing:
		return "completing"
	case Aborting:
		return "aborting"
	case Complete:
		return "complete"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Done is true for Complete and Failed
func (s Status) Done() bool {
	return s == Complete || s == Failed
}

// State is the progress of one scan.  It is written by the goroutine running
// the scan and may be read concurrently from anywhere.
type State struct {
	mu sync.RWMutex

	id        string
	status    Status
	message   string
	aborted   bool
	indices   []int
	linear    int
	total     int
	shape     []int
	stepTimes []float64
	begin     time.Time
	end       time.Time
	err       error

	started     chan struct{}
	startedOnce sync.Once
}

// NewState returns the state of a fresh scan over g.  Every step time is NaN
// and every current index is -1.
func NewState(g grid.Grid) *State {
	s := &State{
		id:        uuid.New().String(),
		indices:   make([]int, len(g.Shape)),
		total:     g.Total,
		shape:     append([]int(nil), g.Shape...),
		stepTimes: make([]float64, g.Total),
		started:   make(chan struct{}),
	}
	for i := range s.indices {
		s.indices[i] = -1
	}
	for i := range s.stepTimes {
		s.stepTimes[i] = math.NaN()
	}
	return s
}

// Started is closed once the scan leaves Inactive
func (s *State) Started() <-chan struct{} {
	return s.started
}

func (s *State) setStatus(st Status, msg string) {
	s.mu.Lock()
	s.status = st
	s.message = msg
	switch st {
	case Running:
		s.begin = time.Now()
	case Complete, Failed:
		s.end = time.Now()
	}
	s.mu.Unlock()
	if st != Inactive {
		s.startedOnce.Do(func() { close(s.started) })
	}
}

func (s *State) setMessage(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.message = msg
}

func (s *State) setAborted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aborted = true
}

func (s *State) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// record stores the duration of the point at indices, whose flat offset is off
func (s *State) record(indices []int, off int, dt time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copy(s.indices, indices)
	s.stepTimes[off] = dt.Seconds()
	s.linear++
}

// ID is the unique identifier of the scan
func (s *State) ID() string {
	return s.id
}

// Status returns the status of the scan
func (s *State) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Progress returns the number of points measured and the number in the grid
func (s *State) Progress() (int, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.linear, s.total
}

// Remaining estimates the time left from the step times recorded so far.
// It is zero once the scan is over, aborted or not.
func (s *State) Remaining() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.remaining()
}

func (s *State) remaining() time.Duration {
	if s.status.Done() {
		return 0
	}
	return EstimateRemaining(s.stepTimes, s.linear, s.total)
}

// Err returns the error that failed the scan, if any
func (s *State) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// Snapshot is a copy of a State at one instant
type Snapshot struct {
	ID      string    `json:"id"`
	Status  string    `json:"status"`
	Message string    `json:"message"`
	Aborted bool      `json:"aborted"`
	Indices []int     `json:"indices"`
	Linear  int       `json:"linear"`
	Total   int       `json:"total"`
	Shape   []int     `json:"shape"`
	Begin   time.Time `json:"begin"`
	End     time.Time `json:"end"`

	// StepTimes holds the seconds spent at each point, NaN where not yet
	// measured, flattened with axis 0 fastest.  It is not serialized since
	// JSON cannot hold NaN.
	StepTimes []float64 `json:"-"`

	// ETA is the estimated time remaining
	ETA time.Duration `json:"eta"`

	Err string `json:"err,omitempty"`
}

// Snapshot copies the state
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{
		ID:        s.id,
		Status:    s.status.String(),
		Message:   s.message,
		Aborted:   s.aborted,
		Indices:   append([]int(nil), s.indices...),
		Linear:    s.linear,
		Total:     s.total,
		Shape:     append([]int(nil), s.shape...),
		Begin:     s.begin,
		End:       s.end,
		StepTimes: append([]float64(nil), s.stepTimes...),
		ETA:       s.remaining(),
	}
	if s.err != nil {
		snap.Err = s.err.Error()
	}
	return snap
}
