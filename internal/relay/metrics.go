package relay

import "github.com/prometheus/client_golang/prometheus"

var (
	roomMembers = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "relay",
		Name:      "room_members",
		Help:      "Active websocket members per room.",
	}, []string{"room"})

	relayedFrames = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relay",
		Name:      "frames_total",
		Help:      "Frames relayed to room members.",
	}, []string{"room"})

	upgradeFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "relay",
		Name:      "upgrade_failures_total",
		Help:      "Websocket upgrade attempts that failed.",
	})
)

func init() {
	prometheus.MustRegister(roomMembers, relayedFrames, upgradeFailures)
}
