// Package metrics records histeq pipeline timings in Prometheus.
package metrics

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gogpu/histeq"
)

// Metrics is a histeq.Profiler backed by Prometheus collectors.
type Metrics struct {
	StageDuration *prometheus.HistogramVec
	Runs          *prometheus.CounterVec
	Pixels        *prometheus.CounterVec

	mu       sync.Mutex
	snapshot Snapshot
}

var _ histeq.Profiler = (*Metrics)(nil)

// Snapshot holds the totals recorded so far, for reports.
type Snapshot struct {
	Runs     int64
	Failures int64
	Pixels   int64

	// StageTotal is the summed duration of each stage.
	StageTotal [histeq.StageCount]time.Duration
}

// New creates the collectors and registers them with reg.
// A nil reg uses a private registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)
	return &Metrics{
		StageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "histeq_stage_duration_seconds",
				Help:    "Duration of each equalization stage including its read-back",
				Buckets: []float64{.0001, .0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"stage", "device"},
		),
		Runs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "histeq_runs_total",
				Help: "Total number of equalization runs",
			},
			[]string{"device", "status", "error_type"},
		),
		Pixels: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "histeq_pixels_total",
				Help: "Total number of pixels equalized",
			},
			[]string{"device"},
		),
	}
}

// ObserveStage records the duration of one stage.
func (m *Metrics) ObserveStage(stage histeq.Stage, device string, d time.Duration) {
	m.StageDuration.WithLabelValues(stage.String(), device).Observe(d.Seconds())

	m.mu.Lock()
	if stage >= 0 && stage < histeq.StageCount {
		m.snapshot.StageTotal[stage] += d
	}
	m.mu.Unlock()
}

// ObserveRun records the outcome of one run.
func (m *Metrics) ObserveRun(device string, pixels int, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.Runs.WithLabelValues(device, status, ErrorType(err)).Inc()
	if err == nil {
		m.Pixels.WithLabelValues(device).Add(float64(pixels))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.snapshot.Failures++
		return
	}
	m.snapshot.Runs++
	m.snapshot.Pixels += int64(pixels)
}

// Snapshot returns the totals recorded so far.
func (m *Metrics) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot
}

// ErrorType classifies err for the error_type label.
func ErrorType(err error) string {
	var (
		ce *histeq.ConfigurationError
		be *histeq.BuildError
		de *histeq.DeviceError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &ce):
		return "configuration"
	case errors.As(err, &be):
		return "build"
	case errors.As(err, &de):
		return "device"
	case errors.Is(err, histeq.ErrInvalidImage):
		return "invalid_image"
	case errors.Is(err, histeq.ErrDeviceClosed):
		return "closed"
	default:
		return "other"
	}
}

// Handler serves the metrics gathered by g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
