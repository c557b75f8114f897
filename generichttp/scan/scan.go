// Package scan provides an HTTP interface to a grid scan controller
package scan

import (
	"encoding/json"
	"errors"
	"go/types"
	"net/http"

	"github.com/ffffffrank/nplab/generichttp"
	"github.com/ffffffrank/nplab/grid"
	"github.com/ffffffrank/nplab/scan"
	"github.com/ffffffrank/nplab/units"
)

// Progress is the reply to GET /progress
type Progress struct {
	Linear int `json:"linear"`
	Total  int `json:"total"`
}

// Vary is the body of POST /vary
type Vary struct {
	Action     string  `json:"action"`
	Multiplier float64 `json:"multiplier"`
}

// StatusFor maps an error from the controller onto an HTTP status code
func StatusFor(err error) int {
	switch {
	case errors.Is(err, scan.ErrInvalidGridConfig), errors.Is(err, units.ErrUnknownUnit):
		return http.StatusBadRequest
	case errors.Is(err, scan.ErrAlreadyRunning), errors.Is(err, scan.ErrNotRunning):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func act(fcn func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fcn(); err != nil {
			http.Error(w, err.Error(), StatusFor(err))
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// HTTPScan adds routes for the controller's lifecycle and progress to the table
func HTTPScan(c *scan.Controller, table generichttp.RouteTable) {
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/start"}] = act(c.Start)
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/abort"}] = act(c.Abort)
	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/running"}] = generichttp.GetBool(func() (bool, error) {
		return c.IsRunning(), nil
	})
	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/status"}] = generichttp.GetString(func() (string, error) {
		return c.Status().String(), nil
	})
	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/progress"}] = func(w http.ResponseWriter, r *http.Request) {
		linear, total := c.Progress()
		generichttp.RespondJSON(w, Progress{Linear: linear, Total: total})
	}
	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/eta"}] = ETA(c)
	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/state"}] = func(w http.ResponseWriter, r *http.Request) {
		snap, _ := c.State()
		generichttp.RespondJSON(w, snap)
	}
	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/error"}] = generichttp.GetString(func() (string, error) {
		if err := c.Err(); err != nil {
			return err.Error(), nil
		}
		return "", nil
	})
}

// ETA returns an HTTP handler func that replies with the estimated time
// remaining in seconds, or 404 if no scan has been started.  The query
// parameter human=true replies with a formatted string instead.
func ETA(c *scan.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d, ok := c.EstimatedTimeRemaining()
		if !ok {
			http.Error(w, "no scan has been started", http.StatusNotFound)
			return
		}
		hp := generichttp.HumanPayload{T: types.Float64, Float: d.Seconds()}
		if r.URL.Query().Get("human") == "true" {
			hp = generichttp.HumanPayload{T: types.String, String: scan.FormatDuration(d)}
		}
		hp.EncodeAndRespond(w, r)
	}
}

func setUnit(c *scan.Controller, set func(*grid.Params, units.Unit) error) func(string) error {
	return func(s string) error {
		u, err := units.Parse(s)
		if err != nil {
			return err
		}
		return c.UpdateParams(func(p *grid.Params) error {
			return set(p, u)
		})
	}
}

// HTTPGrid adds routes for the grid parameters to the table
func HTTPGrid(c *scan.Controller, table generichttp.RouteTable) {
	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/grid"}] = func(w http.ResponseWriter, r *http.Request) {
		generichttp.RespondJSON(w, c.Params())
	}
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/grid"}] = func(w http.ResponseWriter, r *http.Request) {
		p := grid.Params{}
		err := json.NewDecoder(r.Body).Decode(&p)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err = c.SetParams(p); err != nil {
			http.Error(w, err.Error(), StatusFor(err))
			return
		}
		w.WriteHeader(http.StatusOK)
	}
	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/shape"}] = func(w http.ResponseWriter, r *http.Request) {
		g, err := c.Grid()
		if err != nil {
			http.Error(w, err.Error(), StatusFor(err))
			return
		}
		generichttp.RespondJSON(w, g.Shape)
	}
	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/estimate"}] = generichttp.GetFloat(func() (float64, error) {
		d, err := c.EstimateScanDuration()
		return d.Seconds(), err
	})
	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/num-axes"}] = generichttp.GetInt(func() (int, error) {
		p := c.Params()
		return p.NumAxes(), nil
	})
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/num-axes"}] = generichttp.SetInt(func(n int) error {
		return c.UpdateParams(func(p *grid.Params) error { return p.SetNumAxes(n) })
	}, StatusFor)

	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/size-unit"}] = generichttp.GetString(func() (string, error) {
		return string(c.Params().SizeUnit), nil
	})
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/size-unit"}] = generichttp.SetString(
		setUnit(c, (*grid.Params).SetSizeUnit), StatusFor)
	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/step-unit"}] = generichttp.GetString(func() (string, error) {
		return string(c.Params().StepUnit), nil
	})
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/step-unit"}] = generichttp.SetString(
		setUnit(c, (*grid.Params).SetStepUnit), StatusFor)
	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/init-unit"}] = generichttp.GetString(func() (string, error) {
		return string(c.Params().InitUnit), nil
	})
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/init-unit"}] = generichttp.SetString(
		setUnit(c, (*grid.Params).SetInitUnit), StatusFor)

	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/vary"}] = func(w http.ResponseWriter, r *http.Request) {
		v := Vary{}
		err := json.NewDecoder(r.Body).Decode(&v)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		err = c.UpdateParams(func(p *grid.Params) error { return p.Vary(v.Action, v.Multiplier) })
		if err != nil {
			http.Error(w, err.Error(), StatusFor(err))
			return
		}
		w.WriteHeader(http.StatusOK)
	}
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/init-to-current"}] = act(c.SetInitToCurrentPosition)
}

// HTTPController wraps a scan controller with HTTP
type HTTPController struct {
	*scan.Controller

	RouteTable generichttp.RouteTable
}

// NewHTTPController returns a new HTTP wrapper with the route table pre-configured
func NewHTTPController(c *scan.Controller) HTTPController {
	w := HTTPController{Controller: c}
	rt := generichttp.RouteTable{}
	HTTPScan(c, rt)
	HTTPGrid(c, rt)
	w.RouteTable = rt
	return w
}

// RT satisfies the HTTPer interface
func (h HTTPController) RT() generichttp.RouteTable {
	return h.RouteTable
}
