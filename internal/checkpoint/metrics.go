package checkpoint

import "github.com/prometheus/client_golang/prometheus"

var (
	storeSaveLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "checkpoint",
		Name:      "save_seconds",
		Help:      "Latency for persisting checkpoints per backend.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
	}, []string{"backend"})

	storeFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "checkpoint",
		Name:      "failures_total",
		Help:      "Checkpoint store operations that returned an error.",
	}, []string{"backend", "operation"})
)

func init() {
	prometheus.MustRegister(storeSaveLatency, storeFailures)
}
