package pairhttp

import "github.com/prometheus/client_golang/prometheus"

// Exchange results recorded in the exchanges counter.
const (
	resultDone     = "done"
	resultContinue = "continue"
	resultRetry    = "retry"
	resultFailed   = "failed"
)

type metrics struct {
	exchanges *prometheus.CounterVec
	sessions  prometheus.Gauge
	paired    prometheus.Counter
}

// newMetrics creates the collectors and registers them with reg when it is
// not nil.
func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		exchanges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pairing_http_exchanges_total",
				Help: "Pairing messages handled over HTTP.",
			},
			[]string{"method", "result"},
		),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pairing_http_sessions",
			Help: "Pairing sessions currently held open by the HTTP surface.",
		}),
		paired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pairing_http_paired_total",
			Help: "Controllers paired over HTTP.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.exchanges, m.sessions, m.paired)
	}
	return m
}
