package voice

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics counts catalog loads by outcome.
//
//   - talkd_voice_catalog_loads_total{source} - source is "store" or "fallback"
//   - talkd_voice_catalog_fallbacks_total{reason} - error, timeout or empty
type Metrics struct {
	LoadsTotal     *prometheus.CounterVec
	FallbacksTotal *prometheus.CounterVec
}

// NewMetrics registers the catalog metrics once per process.
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			LoadsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "talkd_voice_catalog_loads_total",
					Help: "Voice catalog loads by source",
				},
				[]string{"source"},
			),
			FallbacksTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "talkd_voice_catalog_fallbacks_total",
					Help: "Voice catalog fallbacks by reason",
				},
				[]string{"reason"},
			),
		}
	})
	return globalMetrics
}
