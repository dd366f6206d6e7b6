package bridge

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds connection bridge counters.
type Metrics struct {
	AttemptsTotal     prometheus.Counter
	FailuresTotal     prometheus.Counter
	TimeoutsTotal     prometheus.Counter
	LateDiscardsTotal prometheus.Counter
}

// NewMetrics registers the bridge metrics once per process.
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			AttemptsTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "talkd_bridge_connect_attempts_total",
				Help: "Voice connection attempts",
			}),
			FailuresTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "talkd_bridge_connect_failures_total",
				Help: "Voice connection attempts that failed, including timeouts",
			}),
			TimeoutsTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "talkd_bridge_connect_timeouts_total",
				Help: "Voice connection attempts abandoned at the client deadline",
			}),
			LateDiscardsTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "talkd_bridge_late_discards_total",
				Help: "Connections that arrived after their attempt was abandoned",
			}),
		}
	})
	return globalMetrics
}
