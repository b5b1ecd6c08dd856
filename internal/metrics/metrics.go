// Package metrics exposes the gateway's Prometheus instruments.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config configures the gateway metrics.
type Config struct {
	// Namespace is the metrics namespace (default: "rsmod").
	Namespace string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Registry receives the collectors. Default: a fresh registry that also
	// carries the Go and process collectors.
	Registry *prometheus.Registry
}

// Option configures Config.
type Option func(*Config)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) Option {
	return func(c *Config) {
		c.Namespace = namespace
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) Option {
	return func(c *Config) {
		c.ConstLabels = labels
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry *prometheus.Registry) Option {
	return func(c *Config) {
		c.Registry = registry
	}
}

// Metrics holds every gateway instrument. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	connectionsActive prometheus.Gauge
	connectionsTotal  prometheus.Counter
	framesDecoded     *prometheus.CounterVec
	bytesConsumed     prometheus.Counter
	violations        *prometheus.CounterVec
	handlerErrors     *prometheus.CounterVec
	handlerDuration   *prometheus.HistogramVec
}

// New registers the gateway instruments.
func New(opts ...Option) *Metrics {
	cfg := Config{Namespace: "rsmod"}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.NewRegistry()
		cfg.Registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	factory := promauto.With(cfg.Registry)
	const subsystem = "gateway"

	return &Metrics{
		registry: cfg.Registry,

		connectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   subsystem,
			Name:        "connections_active",
			Help:        "Number of open client connections",
			ConstLabels: cfg.ConstLabels,
		}),

		connectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   subsystem,
			Name:        "connections_total",
			Help:        "Total client connections accepted",
			ConstLabels: cfg.ConstLabels,
		}),

		framesDecoded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   subsystem,
			Name:        "frames_decoded_total",
			Help:        "Total frames decoded by message",
			ConstLabels: cfg.ConstLabels,
		}, []string{"message"}),

		bytesConsumed: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   subsystem,
			Name:        "bytes_consumed_total",
			Help:        "Total inbound bytes consumed by decoded frames",
			ConstLabels: cfg.ConstLabels,
		}),

		violations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   subsystem,
			Name:        "protocol_violations_total",
			Help:        "Connections terminated for a protocol violation, by kind",
			ConstLabels: cfg.ConstLabels,
		}, []string{"kind"}),

		handlerErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   subsystem,
			Name:        "handler_errors_total",
			Help:        "Handler failures by message and error type",
			ConstLabels: cfg.ConstLabels,
		}, []string{"message", "error_type"}),

		handlerDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   subsystem,
			Name:        "handler_duration_seconds",
			Help:        "Handler processing duration in seconds",
			ConstLabels: cfg.ConstLabels,
			Buckets:     []float64{.0001, .0005, .001, .005, .01, .05, .1, .5},
		}, []string{"message"}),
	}
}

// Registry returns the registry backing the instruments.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ConnectionOpened records an accepted connection.
func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.connectionsTotal.Inc()
	m.connectionsActive.Inc()
}

// ConnectionClosed records a closed connection.
func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.connectionsActive.Dec()
}

// FrameDecoded records one decoded frame of size bytes.
func (m *Metrics) FrameDecoded(message string, size int) {
	if m == nil {
		return
	}
	m.framesDecoded.WithLabelValues(message).Inc()
	m.bytesConsumed.Add(float64(size))
}

// Violation records a terminated connection.
func (m *Metrics) Violation(kind string) {
	if m == nil {
		return
	}
	m.violations.WithLabelValues(kind).Inc()
}

// HandlerDone records a handler invocation.
func (m *Metrics) HandlerDone(message string, took time.Duration, errorType string) {
	if m == nil {
		return
	}
	m.handlerDuration.WithLabelValues(message).Observe(took.Seconds())
	if errorType != "" {
		m.handlerErrors.WithLabelValues(message, errorType).Inc()
	}
}
