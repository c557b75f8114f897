package scan

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/ffffffrank/nplab/mathx"
	"github.com/ffffffrank/nplab/util"
)

// MeanStepTime returns the mean of the finite entries of stepTimes, in
// seconds.  ok is false if there are none.
func MeanStepTime(stepTimes []float64) (mean float64, ok bool) {
	finite := make([]float64, 0, len(stepTimes))
	for _, t := range stepTimes {
		if !math.IsNaN(t) && !math.IsInf(t, 0) {
			finite = append(finite, t)
		}
	}
	if len(finite) == 0 {
		return 0, false
	}
	return stat.Mean(finite, nil), true
}

// EstimateRemaining returns (total - linear) times the mean finite step time.
// It is zero when no step has been timed yet, and never negative.
func EstimateRemaining(stepTimes []float64, linear, total int) time.Duration {
	mean, ok := MeanStepTime(stepTimes)
	if !ok || linear >= total || mean <= 0 {
		return 0
	}
	return util.SecsToDuration(float64(total-linear) * mean)
}

// FormatDuration renders d in seconds below two minutes, minutes below an
// hour, and hours otherwise, to one decimal place
func FormatDuration(d time.Duration) string {
	secs := d.Seconds()
	switch {
	case secs < 120:
		return fmt.Sprintf("%.1f s", mathx.Round(secs, 0.1))
	case secs < 3600:
		return fmt.Sprintf("%.1f mins", mathx.Round(secs/60, 0.1))
	default:
		return fmt.Sprintf("%.1f hours", mathx.Round(secs/3600, 0.1))
	}
}
