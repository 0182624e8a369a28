package web

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"licensure/internal/adapters/http/binder"
	"licensure/internal/adapters/http/perf"
)

const metricsNamespace = "licensure"

// Metrics holds the Prometheus collectors of the wizard.
type Metrics struct {
	registry *prometheus.Registry

	ActivationsTotal   *prometheus.CounterVec
	ActivationDuration *prometheus.HistogramVec
	FilterWritesTotal  *prometheus.CounterVec
	StreamsActive      prometheus.Gauge
}

// NewMetrics creates the collectors on a private registry.
// POST: Returns metrics whose Handler serves only this registry plus the
// Go runtime and process collectors
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		ActivationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "control_activations_total",
			Help:      "Wizard control activations by control kind.",
		}, []string{"kind"}),
		ActivationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "control_activation_seconds",
			Help:      "Time from activation to navigation decision.",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1},
		}, []string{"kind"}),
		FilterWritesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "filter_writes_total",
			Help:      "Persisted filter state writes by operation.",
		}, []string{"op"}),
		StreamsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "filter_streams_active",
			Help:      "Open filter change event streams.",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordWrite counts one persisted filter write. It matches filters.Options.OnWrite.
func (m *Metrics) RecordWrite(op string) {
	m.FilterWritesTotal.WithLabelValues(op).Inc()
}

// ActivationObserver returns a binder.Options.OnActivate hook feeding both
// Prometheus and the perf collector. collector may be nil.
func (m *Metrics) ActivationObserver(collector *perf.Collector) func(binder.Kind, time.Duration) {
	return func(kind binder.Kind, elapsed time.Duration) {
		m.ActivationsTotal.WithLabelValues(string(kind)).Inc()
		m.ActivationDuration.WithLabelValues(string(kind)).Observe(elapsed.Seconds())
		if collector != nil {
			collector.Record(perf.Entry{
				Kind:       perf.KindActivation,
				Path:       string(kind),
				DurationMs: float64(elapsed.Microseconds()) / 1000.0,
				Timestamp:  time.Now(),
			})
		}
	}
}
