package analytics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds session summary counters.
type Metrics struct {
	SummariesTotal *prometheus.CounterVec
	FeedbackTotal  *prometheus.CounterVec
	JournalTotal   *prometheus.CounterVec
}

// NewMetrics registers the analytics metrics once per process.
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			SummariesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "talkd_session_summaries_total",
				Help: "Session summaries by outcome",
			}, []string{"outcome"}),
			FeedbackTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "talkd_feedback_generations_total",
				Help: "Feedback generation calls by result",
			}, []string{"result"}),
			JournalTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "talkd_journal_saves_total",
				Help: "Journal saves by result",
			}, []string{"result"}),
		}
	})
	return globalMetrics
}
