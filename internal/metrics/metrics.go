// Package metrics exposes Prometheus instrumentation for the alerting engine.
package metrics

import (
	"time"

	"github.com/ogulcanaydogan/kpi-sentinel/pkg/model"
	"github.com/ogulcanaydogan/kpi-sentinel/pkg/reconcile"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "sentinel"

// Metrics implements the reconcile, lifecycle and notify observers.
type Metrics struct {
	reconcileRuns     *prometheus.CounterVec
	reconcileAlerts   *prometheus.CounterVec
	reconcileDuration prometheus.Histogram
	transitions       *prometheus.CounterVec
	deliveries        *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		reconcileRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "reconcile",
				Name:      "runs_total",
				Help:      "Reconciliation runs by outcome",
			},
			[]string{"outcome"},
		),
		reconcileAlerts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "reconcile",
				Name:      "alerts_total",
				Help:      "Alerts touched by reconciliation, by operation",
			},
			[]string{"op"},
		),
		reconcileDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "reconcile",
				Name:      "duration_seconds",
				Help:      "Duration of reconciliation runs",
				Buckets:   prometheus.DefBuckets,
			},
		),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "lifecycle",
				Name:      "transitions_total",
				Help:      "Alert lifecycle actions recorded",
			},
			[]string{"action"},
		),
		deliveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "notify",
				Name:      "deliveries_total",
				Help:      "Notification delivery attempts by channel and result",
			},
			[]string{"channel", "result"},
		),
	}

	reg.MustRegister(
		m.reconcileRuns,
		m.reconcileAlerts,
		m.reconcileDuration,
		m.transitions,
		m.deliveries,
	)
	return m
}

// ObserveReconcile records a finished reconciliation run.
func (m *Metrics) ObserveReconcile(res reconcile.Result, elapsed time.Duration, err error) {
	switch {
	case err != nil:
		m.reconcileRuns.WithLabelValues("error").Inc()
	case res.Skipped:
		m.reconcileRuns.WithLabelValues("skipped").Inc()
		return
	default:
		m.reconcileRuns.WithLabelValues("ok").Inc()
	}

	m.reconcileDuration.Observe(elapsed.Seconds())
	m.reconcileAlerts.WithLabelValues("created").Add(float64(res.Created))
	m.reconcileAlerts.WithLabelValues("updated").Add(float64(res.Updated))
	m.reconcileAlerts.WithLabelValues("deleted").Add(float64(res.Deleted))
	m.reconcileAlerts.WithLabelValues("unchanged").Add(float64(res.Unchanged))
	m.reconcileAlerts.WithLabelValues("failed").Add(float64(res.Failed))
}

// ObserveTransition records one lifecycle action.
func (m *Metrics) ObserveTransition(action model.ActionType) {
	m.transitions.WithLabelValues(string(action)).Inc()
}

// ObserveDelivery records one delivery attempt.
func (m *Metrics) ObserveDelivery(channel string, ok bool) {
	result := "failed"
	if ok {
		result = "delivered"
	}
	m.deliveries.WithLabelValues(channel, result).Inc()
}
