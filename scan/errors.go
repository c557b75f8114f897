package scan

import (
	"errors"
	"fmt"

	"github.com/ffffffrank/nplab/grid"
)

var (
	// ErrInvalidGridConfig is generated when the grid cannot be built or leaves
	// the stage's software limits.  It is the same error as grid.ErrInvalidGridConfig.
	ErrInvalidGridConfig = grid.ErrInvalidGridConfig

	// ErrAlreadyRunning is generated when an operation requires no scan to be running
	ErrAlreadyRunning = errors.New("a scan is already running")

	// ErrNotRunning is generated when an operation requires a running scan
	ErrNotRunning = errors.New("no scan is running")
)

// MeasurementError is a failure of the stage or the measurement during a scan
type MeasurementError struct {
	// Op is one of "move", "measure", "return"
	Op string

	// Axis is the axis being moved, empty for measurements
	Axis string

	// Indices is the grid point the failure happened at
	Indices []int

	Err error
}

func (e *MeasurementError) Error() string {
	if e.Axis != "" {
		return fmt.Sprintf("scan: %s %s at %v: %v", e.Op, e.Axis, e.Indices, e.Err)
	}
	return fmt.Sprintf("scan: %s at %v: %v", e.Op, e.Indices, e.Err)
}

// Unwrap returns the underlying error
func (e *MeasurementError) Unwrap() error {
	return e.Err
}
