package gateway

import "github.com/prometheus/client_golang/prometheus"

var (
	connections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "tradehub",
		Subsystem: "gateway",
		Name:      "connections",
		Help:      "Open realtime websocket connections.",
	})
	relayed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tradehub",
		Subsystem: "gateway",
		Name:      "relayed_total",
		Help:      "Frames relayed between websockets and the broker.",
	}, []string{"direction"})
)

func init() {
	prometheus.MustRegister(connections, relayed)
}
