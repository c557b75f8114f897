package motion

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
)

// HTTPStage is a Mover which talks to a remote motion server exposing
// /axis/{axis}/pos, as served by generichttp/motion
type HTTPStage struct {
	// Addr is the root of the stage's routes, e.g. http://lab:8000/omc/xps
	Addr string

	// Client is the HTTP client used; http.DefaultClient if nil
	Client *http.Client

	// MaxElapsed bounds the time spent retrying a request that failed in transport
	MaxElapsed time.Duration
}

// NewHTTPStage returns a new HTTPStage rooted at addr
func NewHTTPStage(addr string) *HTTPStage {
	return &HTTPStage{
		Addr:       strings.TrimSuffix(addr, "/"),
		Client:     &http.Client{Timeout: 10 * time.Minute},
		MaxElapsed: 3 * time.Second,
	}
}

type f64 struct {
	F64 float64 `json:"f64"`
}

func (h *HTTPStage) client() *http.Client {
	if h.Client == nil {
		return http.DefaultClient
	}
	return h.Client
}

func (h *HTTPStage) posURL(axis string) string {
	return h.Addr + "/axis/" + url.PathEscape(axis) + "/pos"
}

// do runs req with an exponential backoff on transport errors.  A response
// from the server, including an error status, is never retried since the
// move may have happened.
func (h *HTTPStage) do(mk func() (*http.Request, error)) (*http.Response, error) {
	var resp *http.Response
	op := func() error {
		req, err := mk()
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err = h.client().Do(req)
		return err
	}
	err := backoff.Retry(op, &backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         1 * time.Second,
		MaxElapsedTime:      h.MaxElapsed,
		Clock:               backoff.SystemClock})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := ioutil.ReadAll(resp.Body)
		return nil, fmt.Errorf("stage %s replied %d: %s", h.Addr, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return resp, nil
}

// GetPos gets the position of an axis
func (h *HTTPStage) GetPos(axis string) (float64, error) {
	resp, err := h.do(func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, h.posURL(axis), nil)
	})
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	f := f64{}
	err = json.NewDecoder(resp.Body).Decode(&f)
	return f.F64, err
}

// MoveAbs moves an axis to an absolute position
func (h *HTTPStage) MoveAbs(axis string, pos float64) error {
	body, err := json.Marshal(f64{F64: pos})
	if err != nil {
		return err
	}
	resp, err := h.do(func() (*http.Request, error) {
		req, err := http.NewRequest(http.MethodPost, h.posURL(axis), bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return err
	}
	return resp.Body.Close()
}
