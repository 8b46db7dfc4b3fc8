// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package metrics provides Prometheus instrumentation for redproxy.
package metrics

import (
	"context"
	"time"

	"github.com/absmach/redproxy/pkg/observer"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for redproxy.
type Metrics struct {
	// Session metrics
	ActiveSessions  prometheus.Gauge
	SessionsTotal   *prometheus.CounterVec
	SessionDuration prometheus.Histogram

	// Traffic metrics
	CommandsTotal    *prometheus.CounterVec
	BytesTransferred *prometheus.CounterVec

	// Breaker metrics
	BreakerState prometheus.Gauge
	BreakerTrips prometheus.Counter
}

// New creates a Metrics instance registered on reg.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "redproxy"
	}
	factory := promauto.With(reg)

	return &Metrics{
		ActiveSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_sessions",
				Help:      "Number of currently active proxy sessions",
			},
		),
		SessionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_total",
				Help:      "Total number of proxy sessions",
			},
			[]string{"status"},
		),
		SessionDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "session_duration_seconds",
				Help:      "Session duration in seconds",
				Buckets:   []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60, 300, 600},
			},
		),
		CommandsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "commands_total",
				Help:      "Total number of observed commands by name",
			},
			[]string{"command"},
		),
		BytesTransferred: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bytes_transferred_total",
				Help:      "Total bytes forwarded by direction",
			},
			[]string{"direction"},
		),
		BreakerState: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "breaker_state",
				Help:      "Upstream circuit breaker state (0=closed, 1=half_open, 2=open)",
			},
		),
		BreakerTrips: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "breaker_trips_total",
				Help:      "Total number of upstream circuit breaker trips",
			},
		),
	}
}

// Observer returns an observer that feeds session events into the metrics.
func (m *Metrics) Observer() observer.Observer {
	return &sessionObserver{metrics: m}
}

type sessionObserver struct {
	metrics *Metrics
}

var _ observer.Observer = (*sessionObserver)(nil)

func (o *sessionObserver) OnConnect(ctx context.Context, c *observer.Context) {
	o.metrics.ActiveSessions.Inc()
}

func (o *sessionObserver) OnCommand(ctx context.Context, c *observer.Context, command string) {
	o.metrics.CommandsTotal.WithLabelValues(command).Inc()
}

func (o *sessionObserver) OnTraffic(ctx context.Context, c *observer.Context, dir observer.Direction, n int) {
	o.metrics.BytesTransferred.WithLabelValues(dir.String()).Add(float64(n))
}

func (o *sessionObserver) OnDisconnect(ctx context.Context, c *observer.Context, err error) {
	o.metrics.ActiveSessions.Dec()
	o.metrics.SessionDuration.Observe(time.Since(c.StartedAt).Seconds())

	status := "success"
	if err != nil {
		status = "error"
	}
	o.metrics.SessionsTotal.WithLabelValues(status).Inc()
}
