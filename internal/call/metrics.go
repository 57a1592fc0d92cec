package call

import "github.com/prometheus/client_golang/prometheus"

var transitions = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "tradehub",
	Subsystem: "call",
	Name:      "transitions_total",
	Help:      "Call coordinator state transitions.",
}, []string{"from", "to"})

var failures = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "tradehub",
	Subsystem: "call",
	Name:      "failures_total",
	Help:      "Call attempts aborted by a failure, by stage.",
}, []string{"stage"})

func init() {
	prometheus.MustRegister(transitions, failures)
}
