package grid

import (
	"fmt"

	"github.com/ffffffrank/nplab/units"
)

const (
	// DefaultSize is the size given to new axes, in DefaultUnit
	DefaultSize = 1.

	// DefaultStep is the step given to new axes, in DefaultUnit
	DefaultStep = 0.05

	// DefaultUnit is the unit of size, step, and init on new Params
	DefaultUnit = units.Micrometer
)

// Params is the editable description of a grid scan.  Every slice always has
// length NumAxes(); SetNumAxes keeps them in step.  It is not thread safe.
type Params struct {
	// Axes holds the stage axis identifiers
	Axes []string `json:"axes" yaml:"Axes"`

	// Names holds display labels for the axes
	Names []string `json:"names" yaml:"Names"`

	Size []float64 `json:"size" yaml:"Size"`
	Step []float64 `json:"step" yaml:"Step"`
	Init []float64 `json:"init" yaml:"Init"`

	SizeUnit units.Unit `json:"sizeUnit" yaml:"SizeUnit"`
	StepUnit units.Unit `json:"stepUnit" yaml:"StepUnit"`
	InitUnit units.Unit `json:"initUnit" yaml:"InitUnit"`
}

// NewParams returns parameters for the given axes with a 1 um size, 0.05 um
// step and zero center on every axis
func NewParams(axes ...string) Params {
	p := Params{
		Axes:     make([]string, len(axes)),
		Names:    make([]string, len(axes)),
		Size:     make([]float64, len(axes)),
		Step:     make([]float64, len(axes)),
		Init:     make([]float64, len(axes)),
		SizeUnit: DefaultUnit,
		StepUnit: DefaultUnit,
		InitUnit: DefaultUnit,
	}
	copy(p.Axes, axes)
	copy(p.Names, axes)
	for i := range axes {
		p.Size[i] = DefaultSize
		p.Step[i] = DefaultStep
	}
	return p
}

// NumAxes returns the number of axes
func (p Params) NumAxes() int {
	return len(p.Axes)
}

// SetNumAxes grows or shrinks every per-axis slice to n.  New trailing axes
// are zero filled; shrinking truncates without reordering.
func (p *Params) SetNumAxes(n int) error {
	if n < 0 {
		return fmt.Errorf("%w: number of axes must not be negative, got %d", ErrInvalidGridConfig, n)
	}
	p.Axes = resizeStrings(p.Axes, n)
	p.Names = resizeStrings(p.Names, n)
	p.Size = resizeFloats(p.Size, n)
	p.Step = resizeFloats(p.Step, n)
	p.Init = resizeFloats(p.Init, n)
	return nil
}

func resizeStrings(s []string, n int) []string {
	out := make([]string, n)
	copy(out, s)
	return out
}

func resizeFloats(f []float64, n int) []float64 {
	out := make([]float64, n)
	copy(out, f)
	return out
}

// SetSizeUnit rescales Size into u
func (p *Params) SetSizeUnit(u units.Unit) error {
	return rescaleParam(&p.Size, &p.SizeUnit, u)
}

// SetStepUnit rescales Step into u
func (p *Params) SetStepUnit(u units.Unit) error {
	return rescaleParam(&p.Step, &p.StepUnit, u)
}

// SetInitUnit rescales Init into u
func (p *Params) SetInitUnit(u units.Unit) error {
	return rescaleParam(&p.Init, &p.InitUnit, u)
}

func rescaleParam(vals *[]float64, cur *units.Unit, u units.Unit) error {
	old := *cur
	if old == "" {
		old = u
	}
	out, err := units.Rescale(*vals, old, u)
	if err != nil {
		return err
	}
	*vals = out
	*cur = u
	return nil
}

// Vary multiplies or divides the size or step of every axis.  action is one
// of increase_size, decrease_size, increase_step, decrease_step.
func (p *Params) Vary(action string, multiplier float64) error {
	if multiplier <= 0 {
		return fmt.Errorf("%w: multiplier must be positive, got %v", ErrInvalidGridConfig, multiplier)
	}
	var (
		target []float64
		f      = multiplier
	)
	switch action {
	case "increase_size":
		target = p.Size
	case "decrease_size":
		target, f = p.Size, 1/multiplier
	case "increase_step":
		target = p.Step
	case "decrease_step":
		target, f = p.Step, 1/multiplier
	default:
		return fmt.Errorf("%w: unknown action %q", ErrInvalidGridConfig, action)
	}
	for i := range target {
		target[i] *= f
	}
	return nil
}

// Validate checks that the per-axis slices agree in length and the units are known
func (p Params) Validate() error {
	n := len(p.Axes)
	if len(p.Names) != n || len(p.Size) != n || len(p.Step) != n || len(p.Init) != n {
		return fmt.Errorf("%w: axes, names, size, step and init must all have length %d", ErrInvalidGridConfig, n)
	}
	for _, u := range []units.Unit{p.SizeUnit, p.StepUnit, p.InitUnit} {
		if !u.Valid() {
			return fmt.Errorf("%w: %v", ErrInvalidGridConfig, units.ErrUnknownUnit)
		}
	}
	return nil
}

// Specs converts the parameters into one AxisSpec per axis, expressed in meters
func (p Params) Specs() ([]AxisSpec, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	fs, _ := p.SizeUnit.Factor()
	ft, _ := p.StepUnit.Factor()
	fi, _ := p.InitUnit.Factor()
	out := make([]AxisSpec, len(p.Axes))
	for i := range p.Axes {
		out[i] = AxisSpec{
			Axis:   p.Axes[i],
			Name:   p.Names[i],
			Size:   p.Size[i] * fs,
			Step:   p.Step[i] * ft,
			Center: p.Init[i] * fi,
			Unit:   units.Meter,
		}
	}
	return out, nil
}

// Build is shorthand for Specs followed by Build
func (p Params) Build() (Grid, error) {
	specs, err := p.Specs()
	if err != nil {
		return Grid{}, err
	}
	return Build(specs)
}

// Copy returns a deep copy of p
func (p Params) Copy() Params {
	out := p
	out.Axes = append([]string(nil), p.Axes...)
	out.Names = append([]string(nil), p.Names...)
	out.Size = append([]float64(nil), p.Size...)
	out.Step = append([]float64(nil), p.Step...)
	out.Init = append([]float64(nil), p.Init...)
	return out
}
