package scan_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ffffffrank/nplab/grid"
	"github.com/ffffffrank/nplab/motion"
	"github.com/ffffffrank/nplab/scan"
	"github.com/ffffffrank/nplab/server/middleware/locker"
	"github.com/ffffffrank/nplab/units"
)

type counting struct {
	opens    atomic.Int32
	measures atomic.Int32
	dwell    time.Duration
	gate     chan struct{}
}

func (c *counting) OpenScan(grid.Grid) error {
	c.opens.Add(1)
	return nil
}

func (c *counting) Measure([]int) error {
	if c.gate != nil {
		<-c.gate
	}
	c.measures.Add(1)
	time.Sleep(c.dwell)
	return nil
}

// smallParams describes a 3x3 grid
func smallParams() grid.Params {
	p := grid.NewParams("X", "Y")
	p.Size = []float64{2, 2}
	p.Step = []float64{1, 1}
	return p
}

func TestControllerRunsToCompletion(t *testing.T) {
	m := &counting{}
	c := scan.NewController(motion.NewMockStage("X", "Y"), m, smallParams())
	_, ok := c.EstimatedTimeRemaining()
	require.False(t, ok)
	require.Equal(t, scan.Inactive, c.Status())

	require.NoError(t, c.Start())
	require.NoError(t, c.Wait())
	require.False(t, c.IsRunning())
	require.Equal(t, scan.Complete, c.Status())

	linear, total := c.Progress()
	require.Equal(t, 9, total)
	require.Equal(t, 9, linear)
	eta, ok := c.EstimatedTimeRemaining()
	require.True(t, ok)
	require.Equal(t, time.Duration(0), eta)
	require.Equal(t, int32(9), m.measures.Load())
}

func TestControllerSingleScan(t *testing.T) {
	m := &counting{gate: make(chan struct{})}
	c := scan.NewController(motion.NewMockStage("X", "Y"), m, smallParams())
	require.NoError(t, c.Start())
	require.True(t, c.IsRunning())
	require.Equal(t, scan.Running, c.Status())
	require.NoError(t, c.Start())
	close(m.gate)
	require.NoError(t, c.Wait())
	require.Equal(t, int32(1), m.opens.Load())
	require.Equal(t, int32(9), m.measures.Load())
}

func TestControllerAbort(t *testing.T) {
	p := grid.NewParams("X", "Y")
	m := &counting{dwell: time.Millisecond}
	stage := motion.NewMockStage("X", "Y")
	c := scan.NewController(stage, m, p)
	require.ErrorIs(t, c.Abort(), scan.ErrNotRunning)

	require.NoError(t, c.Start())
	require.Eventually(t, func() bool {
		linear, _ := c.Progress()
		return linear >= 2
	}, 5*time.Second, time.Millisecond)
	require.NoError(t, c.Abort())
	require.False(t, c.IsRunning())

	snap, ok := c.State()
	require.True(t, ok)
	require.True(t, snap.Aborted)
	require.Equal(t, scan.Complete.String(), snap.Status)
	require.Less(t, snap.Linear, snap.Total)

	n := len(stage.Moves())
	measured := m.measures.Load()
	time.Sleep(10 * time.Millisecond)
	require.Equal(t, n, len(stage.Moves()))
	require.Equal(t, measured, m.measures.Load())
	x, _ := stage.GetPos("X")
	y, _ := stage.GetPos("Y")
	require.InDelta(t, 0, x, 1e-12)
	require.InDelta(t, 0, y, 1e-12)

	eta, ok := c.EstimatedTimeRemaining()
	require.True(t, ok)
	require.Equal(t, time.Duration(0), eta)
	require.Equal(t, time.Duration(0), snap.ETA)
}

type slowInit struct {
	counting
	entered chan struct{}
	release chan struct{}
}

func (s *slowInit) InitScan() error {
	close(s.entered)
	<-s.release
	return nil
}

func TestControllerAbortDuringInitScan(t *testing.T) {
	m := &slowInit{entered: make(chan struct{}), release: make(chan struct{})}
	stage := motion.NewMockStage("X", "Y")
	c := scan.NewController(stage, m, smallParams())

	started := make(chan error, 1)
	go func() { started <- c.Start() }()
	<-m.entered
	require.True(t, c.IsRunning())

	aborted := make(chan error, 1)
	go func() { aborted <- c.Abort() }()
	select {
	case err := <-aborted:
		t.Fatalf("expected Abort to wait for the scan, it returned %v", err)
	case <-time.After(20 * time.Millisecond):
	}
	close(m.release)
	require.NoError(t, <-aborted)
	require.NoError(t, <-started)
	require.False(t, c.IsRunning())

	snap, ok := c.State()
	require.True(t, ok)
	require.True(t, snap.Aborted)
	require.Equal(t, 0, snap.Linear)
	require.Equal(t, int32(0), m.measures.Load())
}

func TestControllerUnnamedAxisFailsFast(t *testing.T) {
	stage := motion.NewMockStage("X", "Y")
	c := scan.NewController(stage, &counting{}, smallParams())
	require.NoError(t, c.UpdateParams(func(p *grid.Params) error { return p.SetNumAxes(3) }))
	require.ErrorIs(t, c.Start(), scan.ErrInvalidGridConfig)
	require.False(t, c.IsRunning())
	require.Empty(t, stage.Moves())
}

func TestControllerUnknownStageAxisFailsFast(t *testing.T) {
	stage := motion.NewMockStage("X", "Y")
	p := smallParams()
	p.Axes[1] = "1"
	c := scan.NewController(stage, &counting{}, p)
	require.ErrorIs(t, c.Start(), scan.ErrInvalidGridConfig)
	require.Empty(t, stage.Moves())
}

func TestControllerInvalidGridFailsFast(t *testing.T) {
	p := smallParams()
	p.Step[1] = 0
	stage := motion.NewMockStage("X", "Y")
	c := scan.NewController(stage, &counting{}, p)
	require.ErrorIs(t, c.Start(), scan.ErrInvalidGridConfig)
	require.False(t, c.IsRunning())
	require.Empty(t, stage.Moves())
}

func TestControllerSurfacesFailure(t *testing.T) {
	stage := motion.NewMockStage("X", "Y")
	stage.FailAfter = 5
	c := scan.NewController(stage, &counting{}, smallParams())
	_ = c.Start()
	err := c.Wait()
	require.Error(t, err)
	require.Equal(t, err, c.Err())
	require.Equal(t, scan.Failed, c.Status())
}

func TestControllerFinalNotificationNotThrottled(t *testing.T) {
	c := scan.NewController(motion.NewMockStage("X", "Y"), &counting{}, smallParams())
	c.SetUpdateRate(0.001)
	var (
		mu     sync.Mutex
		events []scan.Event
	)
	c.Subscribe(func(ev scan.Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, ev)
	})
	require.NoError(t, c.Start())
	require.NoError(t, c.Wait())

	mu.Lock()
	defer mu.Unlock()
	progress := 0
	for _, ev := range events {
		if ev.Kind == scan.EventProgress {
			progress++
		}
	}
	require.Equal(t, 1, progress)
	last := events[len(events)-1]
	require.True(t, last.Final)
	require.Equal(t, scan.Complete, last.Status)
	require.Equal(t, 9, last.Linear)
}

func TestControllerLocksStage(t *testing.T) {
	l := locker.New()
	var lockedDuringScan atomic.Bool
	m := scan.MeasureFunc(func([]int) error {
		if l.Locked() {
			lockedDuringScan.Store(true)
		}
		return nil
	})
	c := scan.NewController(motion.NewMockStage("X", "Y"), m, smallParams())
	c.StageLock = l
	require.NoError(t, c.Start())
	require.NoError(t, c.Wait())
	require.True(t, lockedDuringScan.Load())
	require.False(t, l.Locked())
}

func TestSetInitToCurrentPosition(t *testing.T) {
	stage := motion.NewMockStage("X", "Y")
	require.NoError(t, stage.MoveAbs("X", 5))
	require.NoError(t, stage.MoveAbs("Y", -2))
	p := smallParams()
	require.NoError(t, p.SetInitUnit(units.Nanometer))
	c := scan.NewController(stage, &counting{}, p)
	require.NoError(t, c.SetInitToCurrentPosition())
	init := c.Params().Init
	require.InDelta(t, 5000, init[0], 1e-6)
	require.InDelta(t, -2000, init[1], 1e-6)
}

func TestEstimateScanDuration(t *testing.T) {
	c := scan.NewController(motion.NewMockStage("X", "Y"), &counting{}, grid.NewParams("X", "Y"))
	d, err := c.EstimateScanDuration()
	require.NoError(t, err)
	require.Equal(t, 441*time.Millisecond, d)
}

func TestUpdateParamsRejectsInvalid(t *testing.T) {
	c := scan.NewController(motion.NewMockStage("X", "Y"), &counting{}, smallParams())
	err := c.UpdateParams(func(p *grid.Params) error {
		p.Size = p.Size[:1]
		return nil
	})
	require.ErrorIs(t, err, grid.ErrInvalidGridConfig)
	require.Len(t, c.Params().Size, 2)

	require.NoError(t, c.UpdateParams(func(p *grid.Params) error {
		return p.SetNumAxes(3)
	}))
	require.Equal(t, 3, c.Params().NumAxes())
}
