package hume

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds EVI socket counters.
type Metrics struct {
	DialsTotal  *prometheus.CounterVec
	FramesTotal *prometheus.CounterVec
}

// NewMetrics registers the hume metrics once per process.
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			DialsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "talkd_hume_dials_total",
				Help: "EVI websocket dials by result",
			}, []string{"result"}),
			FramesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "talkd_hume_frames_total",
				Help: "EVI frames received by type",
			}, []string{"type"}),
		}
	})
	return globalMetrics
}
