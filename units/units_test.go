package units_test

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/ffffffrank/nplab/units"
)

func ExampleRescale() {
	out, _ := units.Rescale([]float64{1, 0.5}, units.Micrometer, units.Nanometer)
	fmt.Println(out)
	// Output: [1000 500]
}

func TestRescaleRoundTrip(t *testing.T) {
	inp := []float64{1, 0.05, -3.25, 0, 12345.678}
	pairs := [][2]units.Unit{
		{units.Micrometer, units.Nanometer},
		{units.Millimeter, units.Nanometer},
		{units.Micrometer, units.Millimeter},
		{units.Meter, units.Nanometer},
	}
	for _, p := range pairs {
		there, err := units.Rescale(inp, p[0], p[1])
		if err != nil {
			t.Fatal(err)
		}
		back, err := units.Rescale(there, p[1], p[0])
		if err != nil {
			t.Fatal(err)
		}
		for i := range inp {
			tol := 1e-9 * math.Max(math.Abs(inp[i]), 1e-300)
			if math.Abs(back[i]-inp[i]) > tol {
				t.Errorf("%s->%s->%s: expected %v got %v", p[0], p[1], p[0], inp[i], back[i])
			}
		}
	}
}

func TestRescaleDoesNotMutateInput(t *testing.T) {
	inp := []float64{1, 2}
	_, err := units.Rescale(inp, units.Millimeter, units.Micrometer)
	if err != nil {
		t.Fatal(err)
	}
	if inp[0] != 1 || inp[1] != 2 {
		t.Errorf("expected input to be untouched, got %v", inp)
	}
}

func TestRescaleUnknownUnit(t *testing.T) {
	_, err := units.Rescale([]float64{1}, units.Unit("furlong"), units.Micrometer)
	if !errors.Is(err, units.ErrUnknownUnit) {
		t.Errorf("expected ErrUnknownUnit, got %v", err)
	}
}

func TestParse(t *testing.T) {
	cases := map[string]units.Unit{
		"nm":  units.Nanometer,
		"UM":  units.Micrometer,
		"µm":  units.Micrometer,
		" mm": units.Millimeter,
	}
	for in, expected := range cases {
		u, err := units.Parse(in)
		if err != nil {
			t.Errorf("parsing %q: %v", in, err)
			continue
		}
		if u != expected {
			t.Errorf("expected %s got %s", expected, u)
		}
	}
	if _, err := units.Parse("inch"); err == nil {
		t.Error("expected an error parsing inch")
	}
}

func TestToFromMeters(t *testing.T) {
	m, _ := units.ToMeters(250, units.Nanometer)
	if math.Abs(m-250e-9) > 1e-21 {
		t.Errorf("expected 250e-9 got %v", m)
	}
	um, _ := units.FromMeters(m, units.Micrometer)
	if math.Abs(um-0.25) > 1e-12 {
		t.Errorf("expected 0.25 got %v", um)
	}
}

func TestRatioIsExactPowerOfTen(t *testing.T) {
	cases := []struct {
		from, to units.Unit
		expected float64
	}{
		{units.Micrometer, units.Nanometer, 1000},
		{units.Millimeter, units.Nanometer, 1e6},
		{units.Meter, units.Micrometer, 1e6},
		{units.Millimeter, units.Micrometer, 1000},
	}
	for _, c := range cases {
		r, err := units.Ratio(c.from, c.to)
		if err != nil {
			t.Fatal(err)
		}
		if r != c.expected {
			t.Errorf("%s->%s: expected %v got %v", c.from, c.to, c.expected, r)
		}
	}
	out, _ := units.Rescale([]float64{1}, units.Micrometer, units.Nanometer)
	if out[0] != 1000 {
		t.Errorf("expected 1 um to be exactly 1000 nm, got %v", out[0])
	}
}
