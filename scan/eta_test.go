package scan_test

import (
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/ffffffrank/nplab/scan"
)

func ExampleFormatDuration() {
	fmt.Println(scan.FormatDuration(42 * time.Second))
	fmt.Println(scan.FormatDuration(15 * time.Minute))
	fmt.Println(scan.FormatDuration(150 * time.Minute))
	// Output:
	// 42.0 s
	// 15.0 mins
	// 2.5 hours
}

func TestEstimateRemainingZeroWithoutFiniteTimes(t *testing.T) {
	nan := math.NaN()
	cases := [][]float64{
		nil,
		{nan, nan, nan},
		{math.Inf(1), nan},
	}
	for _, c := range cases {
		if d := scan.EstimateRemaining(c, 0, 10); d != 0 {
			t.Errorf("expected 0 got %v for %v", d, c)
		}
	}
}

func TestEstimateRemaining(t *testing.T) {
	nan := math.NaN()
	times := []float64{1, nan, 3, nan, nan}
	d := scan.EstimateRemaining(times, 2, 5)
	expected := 6 * time.Second
	if d != expected {
		t.Errorf("expected %v got %v", expected, d)
	}
}

func TestEstimateRemainingNeverNegative(t *testing.T) {
	times := []float64{0.5, 0.5}
	for linear := 0; linear < 5; linear++ {
		if d := scan.EstimateRemaining(times, linear, 2); d < 0 {
			t.Errorf("expected a non-negative estimate, got %v at linear=%d", d, linear)
		}
	}
}

func TestMeanStepTime(t *testing.T) {
	mean, ok := scan.MeanStepTime([]float64{math.NaN(), 2, 4})
	if !ok || mean != 3 {
		t.Errorf("expected 3 got %v (ok=%v)", mean, ok)
	}
	if _, ok := scan.MeanStepTime([]float64{math.NaN()}); ok {
		t.Error("expected no mean from an all-NaN slice")
	}
}
