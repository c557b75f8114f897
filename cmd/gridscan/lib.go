package main

import (
	"encoding/json"
	"fmt"
	"log"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"

	"github.com/ffffffrank/nplab/generichttp"
	httpmotion "github.com/ffffffrank/nplab/generichttp/motion"
	httpscan "github.com/ffffffrank/nplab/generichttp/scan"
	"github.com/ffffffrank/nplab/grid"
	"github.com/ffffffrank/nplab/metrics"
	"github.com/ffffffrank/nplab/motion"
	"github.com/ffffffrank/nplab/scan"
	"github.com/ffffffrank/nplab/server/middleware/locker"
	"github.com/ffffffrank/nplab/units"
	"github.com/ffffffrank/nplab/util"
)

// Axis describes one axis of the grid.  Size, Step and Init are in the units
// given at the top level of the config.
type Axis struct {
	Axis string  `yaml:"Axis" koanf:"Axis"`
	Name string  `yaml:"Name" koanf:"Name"`
	Size float64 `yaml:"Size" koanf:"Size"`
	Step float64 `yaml:"Step" koanf:"Step"`
	Init float64 `yaml:"Init" koanf:"Init"`
}

// Stage describes the positioning stage
type Stage struct {
	// Addr is the root of a remote stage's HTTP routes, e.g.
	// http://192.168.100.123:8000/omc/xps.  It is ignored when Mock is set.
	Addr string `yaml:"Addr" koanf:"Addr"`

	// Unit is the unit the stage speaks in
	Unit string `yaml:"Unit" koanf:"Unit"`

	// Endpoint is the URL the stage is re-served on
	Endpoint string `yaml:"Endpoint" koanf:"Endpoint"`
}

// Config holds the initialization parameters of the scanner
type Config struct {
	// Addr is the address to listen at
	Addr string `yaml:"Addr" koanf:"Addr"`

	// Mock uses an in-memory stage instead of Stage.Addr
	Mock bool `yaml:"Mock" koanf:"Mock"`

	Stage Stage `yaml:"Stage" koanf:"Stage"`

	// Endpoint is the URL the scan controller is served on
	Endpoint string `yaml:"Endpoint" koanf:"Endpoint"`

	Axes []Axis `yaml:"Axes" koanf:"Axes"`

	// Limits holds software limits, in stage units, keyed by axis
	Limits map[string]util.Limiter `yaml:"Limits" koanf:"Limits"`

	SizeUnit string `yaml:"SizeUnit" koanf:"SizeUnit"`
	StepUnit string `yaml:"StepUnit" koanf:"StepUnit"`
	InitUnit string `yaml:"InitUnit" koanf:"InitUnit"`

	// UpdateRate is the number of progress notifications per second
	UpdateRate float64 `yaml:"UpdateRate" koanf:"UpdateRate"`

	// Dwell is the time the synthetic detector integrates for at each point
	Dwell time.Duration `yaml:"Dwell" koanf:"Dwell"`

	// Metrics serves Prometheus metrics on /metrics
	Metrics bool `yaml:"Metrics" koanf:"Metrics"`
}

// DefaultConfig is a two axis mock scan of 1 um in 50 nm steps
func DefaultConfig() Config {
	return Config{
		Addr: ":8000",
		Mock: true,
		Stage: Stage{
			Unit:     string(units.Micrometer),
			Endpoint: "stage",
		},
		Endpoint: "scan",
		Axes: []Axis{
			{Axis: "X", Name: "X", Size: grid.DefaultSize, Step: grid.DefaultStep},
			{Axis: "Y", Name: "Y", Size: grid.DefaultSize, Step: grid.DefaultStep},
		},
		Limits:     map[string]util.Limiter{},
		SizeUnit:   string(grid.DefaultUnit),
		StepUnit:   string(grid.DefaultUnit),
		InitUnit:   string(grid.DefaultUnit),
		UpdateRate: scan.DefaultUpdateRate,
		Dwell:      time.Millisecond,
		Metrics:    true,
	}
}

// Params converts the axes of the config into grid parameters
func (c Config) Params() (grid.Params, error) {
	p := grid.Params{}
	var err error
	if p.SizeUnit, err = units.Parse(c.SizeUnit); err != nil {
		return p, err
	}
	if p.StepUnit, err = units.Parse(c.StepUnit); err != nil {
		return p, err
	}
	if p.InitUnit, err = units.Parse(c.InitUnit); err != nil {
		return p, err
	}
	for _, a := range c.Axes {
		name := a.Name
		if name == "" {
			name = a.Axis
		}
		p.Axes = append(p.Axes, a.Axis)
		p.Names = append(p.Names, name)
		p.Size = append(p.Size, a.Size)
		p.Step = append(p.Step, a.Step)
		p.Init = append(p.Init, a.Init)
	}
	return p, p.Validate()
}

// BuildStage returns the stage described by the config
func BuildStage(c Config) motion.Mover {
	if c.Mock {
		axes := make([]string, len(c.Axes))
		for i, a := range c.Axes {
			axes[i] = a.Axis
		}
		return motion.NewMockStage(axes...)
	}
	return motion.NewHTTPStage(c.Stage.Addr)
}

// Synthetic is a detector that reads the stage position at each point and
// reports a product of cosines of it, standing in for a camera or photodiode
type Synthetic struct {
	Stage motion.Mover
	Dwell time.Duration

	// Period is the spatial period of the signal, in stage units
	Period float64

	mu     sync.Mutex
	g      grid.Grid
	values []float64
}

// NewSynthetic returns a synthetic detector with a period of one stage unit
func NewSynthetic(stage motion.Mover, dwell time.Duration) *Synthetic {
	return &Synthetic{Stage: stage, Dwell: dwell, Period: 1}
}

// OpenScan allocates storage for the grid
func (s *Synthetic) OpenScan(g grid.Grid) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.g = g
	s.values = make([]float64, g.Total)
	for i := range s.values {
		s.values[i] = math.NaN()
	}
	return nil
}

// Measure records the signal at the current stage position
func (s *Synthetic) Measure(indices []int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := 1.
	for _, ax := range s.g.Axes {
		pos, err := s.Stage.GetPos(ax.Axis)
		if err != nil {
			return err
		}
		v *= math.Cos(2 * math.Pi * pos / s.Period)
	}
	if s.Dwell > 0 {
		time.Sleep(s.Dwell)
	}
	s.values[s.g.Flat(indices)] = v
	return nil
}

// AnalyseScan logs the brightest point of the scan
func (s *Synthetic) AnalyseScan(snap scan.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	best, at := math.Inf(-1), -1
	for i, v := range s.values {
		if !math.IsNaN(v) && v > best {
			best, at = v, i
		}
	}
	if at < 0 {
		return nil
	}
	log.Printf("scan %s: peak %.3f at %v\n", snap.ID, best, s.g.Position(s.g.Unflat(at)))
	return nil
}

// Values returns a copy of the measured values, NaN where unmeasured
func (s *Synthetic) Values() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]float64(nil), s.values...)
}

// BuildController wires a stage and a measurer into a scan controller
// configured from c
func BuildController(c Config, stage motion.Mover, m scan.Measurer) (*scan.Controller, error) {
	p, err := c.Params()
	if err != nil {
		return nil, err
	}
	su, err := units.Parse(c.Stage.Unit)
	if err != nil {
		return nil, fmt.Errorf("stage unit: %w", err)
	}
	ctl := scan.NewController(stage, m, p)
	ctl.Engine().StageUnit = su
	ctl.Engine().Limits = c.Limits
	ctl.SetUpdateRate(c.UpdateRate)
	ctl.Subscribe(func(ev scan.Event) {
		if ev.Kind == scan.EventStatus {
			log.Printf("scan %s: %s: %s\n", ev.ScanID, ev.Status, ev.Message)
		}
	})
	return ctl, nil
}

// BuildScanner builds the stage, a synthetic detector and the controller
// driving them.  The detector reads positions through the controller's
// exclusive stage so that it never races a move.
func BuildScanner(c Config) (*scan.Controller, *Synthetic, error) {
	stage := BuildStage(c)
	syn := NewSynthetic(stage, c.Dwell)
	ctl, err := BuildController(c, stage, syn)
	if err != nil {
		return nil, nil, err
	}
	syn.Stage = ctl.Stage()
	return ctl, syn, nil
}

// BuildMux serves the controller under c.Endpoint and the stage under
// c.Stage.Endpoint.  The stage routes are locked for the duration of every
// scan.  The mux serves a special route, /endpoints, listing every route.
func BuildMux(c Config, ctl *scan.Controller, col *metrics.Collector) chi.Router {
	root := chi.NewRouter()
	root.Use(middleware.Logger)
	supergraph := map[string][]string{}

	// stage
	stage := ctl.Stage()
	limiter := httpmotion.LimitMiddleware{Limits: c.Limits, Mov: stage}
	mover := httpmotion.NewHTTPMotionController(stage)
	limiter.Inject(mover)
	lock := locker.New()
	locker.Inject(mover, lock)
	ctl.StageLock = lock
	hndlS := generichttp.SubMuxSanitize(c.Stage.Endpoint)
	supergraph[hndlS] = mover.RT().Endpoints()
	r := chi.NewRouter()
	r.Use(limiter.Check)
	r.Use(lock.Check)
	mover.RT().Bind(r)
	root.Mount(hndlS, r)

	// controller
	scanner := httpscan.NewHTTPController(ctl)
	hndlS = generichttp.SubMuxSanitize(c.Endpoint)
	supergraph[hndlS] = scanner.RT().Endpoints()
	r = chi.NewRouter()
	scanner.RT().Bind(r)
	root.Mount(hndlS, r)

	if col != nil {
		ctl.Subscribe(col.Observe)
		root.Method(http.MethodGet, "/metrics", col.Handler())
	}
	root.Get("/endpoints", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		err := json.NewEncoder(w).Encode(supergraph)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
	return root
}
