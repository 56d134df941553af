// Package metrics exposes daemon counters and gauges to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "dlmgr"

// Metrics holds every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	reg *prometheus.Registry

	requests      *prometheus.GaugeVec
	resident      prometheus.Gauge
	groups        prometheus.Gauge
	admissions    prometheus.Counter
	startFailures *prometheus.CounterVec
	requeues      prometheus.Counter
	events        *prometheus.CounterVec
	storeErrors   *prometheus.CounterVec
	commands      *prometheus.CounterVec
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		requests: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "requests",
			Help:      "Resident requests by state",
		}, []string{"state"}),
		resident: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "registry_resident",
			Help:      "Requests held in memory",
		}),
		groups: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "groups_connected",
			Help:      "Connected client packages",
		}),
		admissions: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admissions_total",
			Help:      "Requests handed to the engine",
		}),
		startFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "start_failures_total",
			Help:      "Engine start failures by error code",
		}, []string{"code"}),
		requeues: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requeues_total",
			Help:      "Starts returned to the queue",
		}, []string{"reason"}).WithLabelValues("engine_busy"),
		events: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Event deliveries by outcome",
		}, []string{"outcome"}),
		storeErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_errors_total",
			Help:      "Durable log failures by operation",
		}, []string{"op"}),
		commands: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Protocol commands by command and reply code",
		}, []string{"command", "code"}),
	}
}

// Handler serves the registry in the text exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

// SetStates replaces the per-state gauge values.
func (m *Metrics) SetStates(counts map[string]int, resident int) {
	if m == nil {
		return
	}
	m.requests.Reset()
	for st, n := range counts {
		m.requests.WithLabelValues(st).Set(float64(n))
	}
	m.resident.Set(float64(resident))
}

func (m *Metrics) SetGroups(n int) {
	if m == nil {
		return
	}
	m.groups.Set(float64(n))
}

func (m *Metrics) Admitted() {
	if m == nil {
		return
	}
	m.admissions.Inc()
}

func (m *Metrics) StartFailed(code string) {
	if m == nil {
		return
	}
	m.startFailures.WithLabelValues(code).Inc()
}

func (m *Metrics) Requeued() {
	if m == nil {
		return
	}
	m.requeues.Inc()
}

// Event counts an event outcome: sent, fallback, throttled or dropped.
func (m *Metrics) Event(outcome string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(outcome).Inc()
}

func (m *Metrics) StoreError(op string) {
	if m == nil {
		return
	}
	m.storeErrors.WithLabelValues(op).Inc()
}

func (m *Metrics) Command(cmd, code string) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(cmd, code).Inc()
}
