package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	EventsTotal       *prometheus.CounterVec
	SinkFailures      *prometheus.CounterVec
}

func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		OperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marginpool_operations_total",
				Help: "Total ledger operations by outcome.",
			},
			[]string{"op", "status"},
		),
		OperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "marginpool_operation_duration_seconds",
				Help:    "Ledger operation duration in seconds, including lock wait.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"op"},
		),
		EventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marginpool_events_total",
				Help: "Total committed events.",
			},
			[]string{"event"},
		),
		SinkFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marginpool_event_sink_failures_total",
				Help: "Total event sink delivery failures.",
			},
			[]string{"sink"},
		),
	}

	registry.MustRegister(
		m.OperationsTotal,
		m.OperationDuration,
		m.EventsTotal,
		m.SinkFailures,
	)
	return m
}

func (m *Metrics) ObserveOperation(op, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.OperationsTotal.WithLabelValues(op, status).Inc()
	m.OperationDuration.WithLabelValues(op).Observe(duration.Seconds())
}

func (m *Metrics) IncEvent(name string) {
	if m == nil {
		return
	}
	m.EventsTotal.WithLabelValues(name).Inc()
}

func (m *Metrics) IncSinkFailure(sink string) {
	if m == nil {
		return
	}
	m.SinkFailures.WithLabelValues(sink).Inc()
}
