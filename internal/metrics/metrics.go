// Package metrics records one run of the bridge in a private Prometheus
// registry that can be written out as a node_exporter textfile.
package metrics

import (
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"mover/internal/backend"
	"mover/internal/procutil"
)

const namespace = "mover"

// Metrics holds the collectors of a single run.
type Metrics struct {
	Registry *prometheus.Registry

	backendEvents  *prometheus.CounterVec
	probes         *prometheus.CounterVec
	readinessWait  prometheus.Histogram
	pulls          *prometheus.CounterVec
	warmups        *prometheus.CounterVec
	warmupDuration prometheus.Histogram
	downstreamExit prometheus.Gauge
	runDuration    prometheus.Gauge
	backendAdopted prometheus.Gauge
}

// New creates and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		backendEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "backend",
				Name:      "events_total",
				Help:      "Backend supervisor lifecycle events",
			},
			[]string{"event"},
		),
		probes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "backend",
				Name:      "probes_total",
				Help:      "Liveness probes by outcome and HTTP status",
			},
			[]string{"outcome", "status"},
		),
		readinessWait: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "backend",
				Name:      "readiness_wait_seconds",
				Help:      "Time from spawn until the backend answered",
				Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 45, 90},
			},
		),
		pulls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "model",
				Name:      "pulls_total",
				Help:      "Model pulls by result",
			},
			[]string{"result"},
		),
		warmups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "model",
				Name:      "warmups_total",
				Help:      "Warm-up requests by result",
			},
			[]string{"result"},
		),
		warmupDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "model",
				Name:      "warmup_duration_seconds",
				Help:      "Duration of the warm-up generation request",
				Buckets:   prometheus.DefBuckets,
			},
		),
		downstreamExit: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "downstream",
				Name:      "exit_code",
				Help:      "Exit code of the launched tool, -1 when killed by a signal",
			},
		),
		runDuration: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Wall time of the whole run",
			},
		),
		backendAdopted: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "backend",
				Name:      "adopted",
				Help:      "1 when an already running backend was reused",
			},
		),
	}
	m.Registry.MustRegister(m.backendEvents, m.probes, m.readinessWait, m.pulls, m.warmups,
		m.warmupDuration, m.downstreamExit, m.runDuration, m.backendAdopted)
	return m
}

// Publish implements backend.EventPublisher.
func (m *Metrics) Publish(e backend.Event) {
	if m == nil {
		return
	}
	m.backendEvents.WithLabelValues(e.Name).Inc()
	switch e.Name {
	case backend.EventProbe:
		o, _ := e.Fields["outcome"].(string)
		code, _ := e.Fields["status"].(int)
		m.probes.WithLabelValues(o, statusLabel(code)).Inc()
	case backend.EventAdopt:
		m.backendAdopted.Set(1)
	case backend.EventSpawnReady:
		if d, ok := e.Fields["elapsed"].(time.Duration); ok {
			m.readinessWait.Observe(d.Seconds())
		}
	}
}

// ObservePull records a pull result; skipped pulls pass skipped=true.
func (m *Metrics) ObservePull(skipped bool, err error) {
	if m == nil {
		return
	}
	m.pulls.WithLabelValues(result(skipped, err)).Inc()
}

// ObserveWarmup records a warm-up result and, when it ran, its duration.
func (m *Metrics) ObserveWarmup(skipped bool, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.warmups.WithLabelValues(result(skipped, err)).Inc()
	if !skipped {
		m.warmupDuration.Observe(d.Seconds())
	}
}

// ObserveDownstream records the launched tool's exit status.
func (m *Metrics) ObserveDownstream(st procutil.ExitStatus) {
	if m == nil {
		return
	}
	m.downstreamExit.Set(float64(st.Code))
}

// ObserveRun records the total run time.
func (m *Metrics) ObserveRun(d time.Duration) {
	if m == nil {
		return
	}
	m.runDuration.Set(d.Seconds())
}

// WriteTextfile writes every collector to path in the text exposition
// format. The file is replaced atomically.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.Registry); err != nil {
		return fmt.Errorf("write metrics to %s: %w", path, err)
	}
	return nil
}

func result(skipped bool, err error) string {
	switch {
	case skipped:
		return "skipped"
	case err != nil:
		return "error"
	default:
		return "ok"
	}
}

// statusLabel renders an HTTP status for label values; 0 means no response.
func statusLabel(code int) string {
	if code == 0 {
		return "none"
	}
	return strconv.Itoa(code)
}
