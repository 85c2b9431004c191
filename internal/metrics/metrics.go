// Package metrics exposes the process's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "worldplay_active_sessions",
		Help: "Broadcast sessions currently live.",
	})

	SignalRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "worldplay_signal_requests_total",
		Help: "Signaling requests by type and outcome.",
	}, []string{"type", "outcome"})

	ActiveRecordings = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "worldplay_active_recordings",
		Help: "Recording jobs currently running.",
	})

	RecordingFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "worldplay_recording_failures_total",
		Help: "Recording jobs that ended abnormally.",
	})
)
