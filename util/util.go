// Package util contains misc internal utilities.
package util

import (
	"math"
	"time"
)

// Limiter holds software travel limits for an axis, in stage units
type Limiter struct {
	Min float64 `json:"min" yaml:"Min" koanf:"Min"`
	Max float64 `json:"max" yaml:"Max" koanf:"Max"`
}

// Check returns true if x lies within [Min, Max]
func (l Limiter) Check(x float64) bool {
	return x >= l.Min && x <= l.Max
}

// SecsToDuration converts a (float) number of seconds to a time.Duration
func SecsToDuration(secs float64) time.Duration {
	return time.Duration(math.Round(secs * 1e9))
}
