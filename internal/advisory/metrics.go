package advisory

import "github.com/prometheus/client_golang/prometheus"

var (
	calls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "krishiconnect",
		Subsystem: "advisory",
		Name:      "calls_total",
		Help:      "Successful advisory model calls by kind.",
	}, []string{"kind"})

	fallbacks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "krishiconnect",
		Subsystem: "advisory",
		Name:      "fallbacks_total",
		Help:      "Advisory calls answered with placeholder text, by kind and reason.",
	}, []string{"kind", "reason"})
)

func init() {
	prometheus.MustRegister(calls, fallbacks)
}
