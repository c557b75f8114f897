package mathx_test

import (
	"math"
	"testing"

	"github.com/ffffffrank/nplab/mathx"
)

func TestRound(t *testing.T) {
	cases := [][3]float64{
		// x, unit, expected
		{1.04, 0.1, 1.0},
		{1.06, 0.1, 1.1},
		{-1.06, 0.1, -1.1},
		{119.96, 0.1, 120},
	}
	for _, c := range cases {
		out := mathx.Round(c[0], c[1])
		if math.Abs(out-c[2]) > 1e-9 {
			t.Errorf("Round(%v, %v): expected %v got %v", c[0], c[1], c[2], out)
		}
	}
}
