// Package metrics exposes the progress of grid scans to Prometheus
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ffffffrank/nplab/scan"
)

// Collector turns controller events into Prometheus metrics.  Its Observe
// method is a scan.Observer.
type Collector struct {
	registry *prometheus.Registry

	scans    *prometheus.CounterVec
	points   prometheus.Counter
	running  prometheus.Gauge
	progress prometheus.Gauge
	eta      prometheus.Gauge
	stepTime prometheus.Gauge

	mu     sync.Mutex
	linear map[string]int
}

// NewCollector returns a collector with its own registry, using namespace as
// the metric prefix
func NewCollector(namespace string) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		scans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scans_total",
			Help:      "Scans finished, by outcome (complete, aborted, failed)",
		}, []string{"outcome"}),
		points: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "points_total",
			Help:      "Grid points measured",
		}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "running",
			Help:      "1 while a scan is running",
		}),
		progress: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "progress_ratio",
			Help:      "Fraction of the current scan's points measured",
		}),
		eta: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "eta_seconds",
			Help:      "Estimated time remaining in the current scan",
		}),
		stepTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "step_time_seconds",
			Help:      "Mean time spent per point in the current scan",
		}),
		linear: make(map[string]int),
	}
	c.registry.MustRegister(c.scans, c.points, c.running, c.progress, c.eta, c.stepTime)
	return c
}

// Observe updates the metrics from ev
func (c *Collector) Observe(ev scan.Event) {
	if ev.Kind == scan.EventParams || ev.ScanID == "" {
		return
	}
	c.mu.Lock()
	// progress events are throttled, so points are counted from the difference
	if d := ev.Linear - c.linear[ev.ScanID]; d > 0 {
		c.points.Add(float64(d))
		c.linear[ev.ScanID] = ev.Linear
	}
	if ev.Final {
		delete(c.linear, ev.ScanID)
	}
	c.mu.Unlock()

	if ev.Total > 0 {
		c.progress.Set(float64(ev.Linear) / float64(ev.Total))
	}
	c.eta.Set(ev.ETA.Seconds())
	c.stepTime.Set(ev.MeanStepTime.Seconds())
	switch ev.Status {
	case scan.Running, scan.Completing, scan.Aborting:
		c.running.Set(1)
	default:
		c.running.Set(0)
	}
	if !ev.Final {
		return
	}
	switch {
	case ev.Status == scan.Failed:
		c.scans.WithLabelValues("failed").Inc()
	case ev.Aborted:
		c.scans.WithLabelValues("aborted").Inc()
	default:
		c.scans.WithLabelValues("complete").Inc()
	}
}

// Registry returns the registry the metrics are registered with
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the metrics in the Prometheus exposition format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
