package scan_test

import (
	"errors"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/ffffffrank/nplab/grid"
	"github.com/ffffffrank/nplab/motion"
	"github.com/ffffffrank/nplab/scan"
	"github.com/ffffffrank/nplab/units"
	"github.com/ffffffrank/nplab/util"
)

// shapeGrid builds a grid with n points per axis, 1 um apart
func shapeGrid(t *testing.T, axes []string, shape ...int) grid.Grid {
	t.Helper()
	specs := make([]grid.AxisSpec, len(shape))
	for i, n := range shape {
		specs[i] = grid.AxisSpec{Axis: axes[i], Size: float64(n - 1), Step: 1, Unit: units.Micrometer}
	}
	g, err := grid.Build(specs)
	require.NoError(t, err)
	require.Equal(t, shape, g.Shape)
	return g
}

type recorder struct {
	visits [][]int
	calls  []string
	failAt int
	err    error
	panics bool
}

func (r *recorder) Measure(idx []int) error {
	r.visits = append(r.visits, append([]int(nil), idx...))
	r.calls = append(r.calls, "measure")
	if r.failAt > 0 && len(r.visits) == r.failAt {
		if r.panics {
			panic("detector fell over")
		}
		return r.err
	}
	return nil
}

type hooked struct {
	recorder
}

func (h *hooked) OpenScan(grid.Grid) error        { h.calls = append(h.calls, "open"); return nil }
func (h *hooked) CompensateDrift() error          { h.calls = append(h.calls, "drift"); return nil }
func (h *hooked) AnalyseScan(scan.Snapshot) error { h.calls = append(h.calls, "analyse"); return nil }
func (h *hooked) CloseScan() error                { h.calls = append(h.calls, "close"); return nil }

func run(t *testing.T, g grid.Grid, m scan.Measurer, stage motion.Mover, abort *atomic.Bool) (*scan.State, error) {
	t.Helper()
	e := scan.NewEngine(stage, m)
	require.NoError(t, e.Check(g))
	st := scan.NewState(g)
	return st, e.Run(g, st, abort)
}

func TestSnakeOrder2D(t *testing.T) {
	g := shapeGrid(t, []string{"X", "Y"}, 3, 2)
	rec := &recorder{}
	st, err := run(t, g, rec, motion.NewMockStage("X", "Y"), nil)
	require.NoError(t, err)
	expected := [][]int{{0, 0}, {1, 0}, {2, 0}, {2, 1}, {1, 1}, {0, 1}}
	if diff := cmp.Diff(expected, rec.visits); diff != "" {
		t.Errorf("visit order mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, scan.Complete, st.Status())
}

func TestSnakeOrder3D(t *testing.T) {
	g := shapeGrid(t, []string{"X", "Y", "Z"}, 2, 2, 2)
	rec := &recorder{}
	_, err := run(t, g, rec, motion.NewMockStage("X", "Y", "Z"), nil)
	require.NoError(t, err)
	expected := [][]int{
		{0, 0, 0}, {1, 0, 0}, {1, 1, 0}, {0, 1, 0},
		{0, 1, 1}, {1, 1, 1}, {1, 0, 1}, {0, 0, 1},
	}
	if diff := cmp.Diff(expected, rec.visits); diff != "" {
		t.Errorf("visit order mismatch (-want +got):\n%s", diff)
	}
}

func TestSnakeVisitsEveryPointOnceWithUnitSteps(t *testing.T) {
	g := shapeGrid(t, []string{"X", "Y", "Z", "T"}, 3, 2, 4, 2)
	rec := &recorder{}
	st, err := run(t, g, rec, motion.NewMockStage("X", "Y", "Z", "T"), nil)
	require.NoError(t, err)
	require.Len(t, rec.visits, g.Total)
	seen := map[int]bool{}
	for i, v := range rec.visits {
		off := g.Flat(v)
		if seen[off] {
			t.Errorf("point %v visited twice", v)
		}
		seen[off] = true
		if i == 0 {
			continue
		}
		dist := 0
		for k := range v {
			d := v[k] - rec.visits[i-1][k]
			if d < 0 {
				d = -d
			}
			dist += d
		}
		if dist != 1 {
			t.Errorf("expected a single unit step from %v to %v", rec.visits[i-1], v)
		}
	}
	linear, total := st.Progress()
	require.Equal(t, g.Total, linear)
	require.Equal(t, g.Total, total)
}

func TestRunReturnsToOrigin(t *testing.T) {
	specs := []grid.AxisSpec{
		{Axis: "X", Size: 2, Step: 1, Center: 5, Unit: units.Micrometer},
		{Axis: "Y", Size: 2, Step: 1, Center: -3, Unit: units.Micrometer},
	}
	g, err := grid.Build(specs)
	require.NoError(t, err)
	stage := motion.NewMockStage("X", "Y")
	_, err = run(t, g, &recorder{}, stage, nil)
	require.NoError(t, err)
	x, _ := stage.GetPos("X")
	y, _ := stage.GetPos("Y")
	require.InDelta(t, 5, x, 1e-9)
	require.InDelta(t, -3, y, 1e-9)
}

func TestHookOrder(t *testing.T) {
	g := shapeGrid(t, []string{"X", "Y"}, 2, 2)
	h := &hooked{}
	_, err := run(t, g, h, motion.NewMockStage("X", "Y"), nil)
	require.NoError(t, err)
	expected := []string{"open", "drift", "measure", "measure", "drift", "measure", "measure", "analyse", "close"}
	if diff := cmp.Diff(expected, h.calls); diff != "" {
		t.Errorf("hook order mismatch (-want +got):\n%s", diff)
	}
}

func TestAbortHonored(t *testing.T) {
	g := shapeGrid(t, []string{"X", "Y"}, 5, 5)
	var abort atomic.Bool
	stage := motion.NewMockStage("X", "Y")
	n := 0
	m := scan.MeasureFunc(func([]int) error {
		n++
		if n == 3 {
			abort.Store(true)
		}
		return nil
	})
	st, err := run(t, g, m, stage, &abort)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	snap := st.Snapshot()
	require.True(t, snap.Aborted)
	require.Equal(t, scan.Complete.String(), snap.Status)
	require.Equal(t, 3, snap.Linear)

	moves := stage.Moves()
	last := moves[len(moves)-2:]
	if diff := cmp.Diff([]motion.Move{{Axis: "X", Pos: 0}, {Axis: "Y", Pos: 0}}, last); diff != "" {
		t.Errorf("expected the stage to return to origin last (-want +got):\n%s", diff)
	}
}

func TestMeasurementFailurePropagates(t *testing.T) {
	g := shapeGrid(t, []string{"X", "Y"}, 3, 3)
	errDetector := errors.New("detector saturated")
	h := &hooked{recorder: recorder{failAt: 2, err: errDetector}}
	stage := motion.NewMockStage("X", "Y")
	st, err := run(t, g, h, stage, nil)
	require.ErrorIs(t, err, errDetector)
	var me *scan.MeasurementError
	require.True(t, errors.As(err, &me))
	require.Equal(t, "measure", me.Op)
	require.Equal(t, []int{1, 0}, me.Indices)
	require.Equal(t, scan.Failed, st.Status())
	require.ErrorIs(t, st.Err(), errDetector)
	require.NotContains(t, h.calls, "close")

	x, _ := stage.GetPos("X")
	y, _ := stage.GetPos("Y")
	require.InDelta(t, 0, x, 1e-12)
	require.InDelta(t, 0, y, 1e-12)
}

func TestMeasurementPanicRecovered(t *testing.T) {
	g := shapeGrid(t, []string{"X"}, 4)
	rec := &recorder{failAt: 1, panics: true}
	_, err := run(t, g, rec, motion.NewMockStage("X"), nil)
	var me *scan.MeasurementError
	require.True(t, errors.As(err, &me))
	require.Contains(t, me.Error(), "detector fell over")
}

func TestMoveFailure(t *testing.T) {
	g := shapeGrid(t, []string{"X", "Y"}, 3, 3)
	stage := motion.NewMockStage("X", "Y")
	stage.FailAfter = 4
	rec := &recorder{}
	st, err := run(t, g, rec, stage, nil)
	var me *scan.MeasurementError
	require.True(t, errors.As(err, &me))
	require.Equal(t, "move", me.Op)
	require.Equal(t, scan.Failed, st.Status())
}

func TestCheckLimits(t *testing.T) {
	g := shapeGrid(t, []string{"X", "Y"}, 3, 3)
	e := scan.NewEngine(motion.NewMockStage("X", "Y"), &recorder{})
	e.Limits = map[string]util.Limiter{"Y": {Min: -0.5, Max: 0.5}}
	require.ErrorIs(t, e.Check(g), scan.ErrInvalidGridConfig)

	e.Limits = map[string]util.Limiter{"Y": {Min: -1.5, Max: 1.5}}
	require.NoError(t, e.Check(g))

	e.StageUnit = units.Nanometer
	require.ErrorIs(t, e.Check(g), scan.ErrInvalidGridConfig)
}

func TestStageUnitConversion(t *testing.T) {
	g := shapeGrid(t, []string{"X"}, 3)
	stage := motion.NewMockStage("X")
	e := scan.NewEngine(stage, &recorder{})
	e.StageUnit = units.Nanometer
	require.NoError(t, e.Run(g, scan.NewState(g), nil))
	moves := stage.Moves()
	require.Len(t, moves, 4)
	for i, want := range []float64{-1000, 0, 1000, 0} {
		require.InDelta(t, want, moves[i].Pos, 1e-6)
	}
}
