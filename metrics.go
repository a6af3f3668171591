// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package courier

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Lane labels
const (
	laneSerial     = "serial"
	laneConcurrent = "concurrent"
)

// outcomeSuccess labels successful dispatches in place of a Kind.
const outcomeSuccess = "success"

// Metrics holds the client's Prometheus collectors.
type Metrics struct {
	// dispatchesTotal counts finished dispatches.
	//
	// Labels:
	//   - lane: "serial" or "concurrent"
	//   - outcome: "success" or a failure Kind
	dispatchesTotal *prometheus.CounterVec

	// dispatchDuration measures submission to outcome, including time queued.
	dispatchDuration *prometheus.HistogramVec

	inFlight        prometheus.Gauge
	serialQueued    prometheus.Gauge
	logLinesDropped prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		dispatchesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "courier",
				Name:      "dispatches_total",
				Help:      "Total dispatches by lane and outcome",
			},
			[]string{"lane", "outcome"},
		),
		dispatchDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "courier",
				Name:      "dispatch_duration_seconds",
				Help:      "Dispatch duration in seconds by lane",
				Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"lane"},
		),
		inFlight: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "courier",
				Name:      "dispatches_in_flight",
				Help:      "Dispatches currently running their pipeline",
			},
		),
		serialQueued: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "courier",
				Subsystem: "serial",
				Name:      "queue_depth",
				Help:      "Serial requests waiting for the lane",
			},
		),
		logLinesDropped: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: "courier",
				Subsystem: "log",
				Name:      "lines_dropped_total",
				Help:      "Diagnostic log lines dropped because the writer was saturated",
			},
		),
	}
}

func (m *Metrics) observe(lane string, err *Error, elapsed time.Duration) {
	outcome := outcomeSuccess
	if err != nil {
		outcome = string(err.Kind)
	}
	m.dispatchesTotal.WithLabelValues(lane, outcome).Inc()
	m.dispatchDuration.WithLabelValues(lane).Observe(elapsed.Seconds())
}
