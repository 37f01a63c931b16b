package session

import "github.com/prometheus/client_golang/prometheus"

var (
	activeSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "session",
		Name:      "active",
		Help:      "Collaboration sessions currently running.",
	})

	reconnectAttempts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "session",
		Name:      "reconnect_attempts_total",
		Help:      "Peer transport reconnect attempts across all sessions.",
	})

	checkpointFlushes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "session",
		Name:      "checkpoint_flushes_total",
		Help:      "Periodic and final checkpoint flushes by outcome.",
	}, []string{"outcome"})
)

func init() {
	prometheus.MustRegister(activeSessions, reconnectAttempts, checkpointFlushes)
}
