package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics records plan and apply activity in a private Prometheus
// registry. The zero-value methods are safe when metrics are disabled.
type Metrics struct {
	config MetricsConfig

	plansComputed     *prometheus.CounterVec
	plannedOps        *prometheus.CounterVec
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	runDuration       *prometheus.HistogramVec
	objectsObserved   *prometheus.GaugeVec

	registry *prometheus.Registry
}

// NewMetrics creates a metrics collector. When disabled, every method is
// a no-op.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.Buckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}
	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		plansComputed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "plans_computed_total",
				Help:      "Total number of plans computed",
			},
			[]string{"backend"},
		),
		plannedOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "planned_operations_total",
				Help:      "Total number of operations emitted into plans",
			},
			[]string{"op"},
		),
		operationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "apply_operations_total",
				Help:      "Total number of apply operations by outcome",
			},
			[]string{"op", "outcome"},
		),
		operationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "apply_operation_duration_seconds",
				Help:      "Duration of single apply operations in seconds",
				Buckets:   buckets,
			},
			[]string{"op", "type"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of whole plan or apply runs in seconds",
				Buckets:   buckets,
			},
			[]string{"phase", "status"},
		),
		objectsObserved: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "objects_observed",
				Help:      "Number of records last observed per type",
			},
			[]string{"type"},
		),
	}

	registry.MustRegister(
		m.plansComputed,
		m.plannedOps,
		m.operationsTotal,
		m.operationDuration,
		m.runDuration,
		m.objectsObserved,
	)
	return m, nil
}

// Handler returns the HTTP handler serving the registry, or nil when
// metrics are disabled.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return nil
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// PlanComputed records one computed plan and its operation mix.
func (m *Metrics) PlanComputed(backendName string, creates, updates, deletes int) {
	if m.registry == nil {
		return
	}
	m.plansComputed.WithLabelValues(backendName).Inc()
	m.plannedOps.WithLabelValues("create").Add(float64(creates))
	m.plannedOps.WithLabelValues("update").Add(float64(updates))
	m.plannedOps.WithLabelValues("delete").Add(float64(deletes))
}

// OperationApplied records one finished apply operation.
func (m *Metrics) OperationApplied(op, typeName, outcome string, elapsed time.Duration) {
	if m.registry == nil {
		return
	}
	m.operationsTotal.WithLabelValues(op, outcome).Inc()
	m.operationDuration.WithLabelValues(op, typeName).Observe(elapsed.Seconds())
}

// RunFinished records the duration of a whole phase.
func (m *Metrics) RunFinished(phase, status string, elapsed time.Duration) {
	if m.registry == nil {
		return
	}
	m.runDuration.WithLabelValues(phase, status).Observe(elapsed.Seconds())
}

// ObjectsObserved records how many records a type returned on observe.
func (m *Metrics) ObjectsObserved(typeName string, count int) {
	if m.registry == nil {
		return
	}
	m.objectsObserved.WithLabelValues(typeName).Set(float64(count))
}
