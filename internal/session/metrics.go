package session

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds flow store instruments.
type Metrics struct {
	FlowsActive     prometheus.Gauge
	FlowsCreated    prometheus.Counter
	FlowsReaped     prometheus.Counter
	SessionsStarted prometheus.Counter
	RecordFailures  prometheus.Counter
}

// NewMetrics registers the session metrics once per process.
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			FlowsActive: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "talkd_session_flows_active",
				Help: "Onboarding flows currently held in memory",
			}),
			FlowsCreated: promauto.NewCounter(prometheus.CounterOpts{
				Name: "talkd_session_flows_created_total",
				Help: "Onboarding flows created",
			}),
			FlowsReaped: promauto.NewCounter(prometheus.CounterOpts{
				Name: "talkd_session_flows_reaped_total",
				Help: "Flows dropped after the idle TTL",
			}),
			SessionsStarted: promauto.NewCounter(prometheus.CounterOpts{
				Name: "talkd_session_live_started_total",
				Help: "Flows that reached a live voice session",
			}),
			RecordFailures: promauto.NewCounter(prometheus.CounterOpts{
				Name: "talkd_session_record_failures_total",
				Help: "Transcript turns that could not be persisted",
			}),
		}
	})
	return globalMetrics
}
