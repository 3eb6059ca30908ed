package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics for the certificate lifecycle.
type Metrics struct {
	ApplicationsSubmitted *prometheus.CounterVec
	ApplicationsFinished  *prometheus.CounterVec
	ChecksScheduled       prometheus.Counter
	NotificationsSent     *prometheus.CounterVec
	ProviderCallDuration  *prometheus.HistogramVec
}

// New creates and registers all certificate metrics.
func New() *Metrics {
	return &Metrics{
		ApplicationsSubmitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "crcert_applications_submitted_total",
			Help: "Total number of certificate applications submitted, by outcome",
		}, []string{"outcome"}),
		ApplicationsFinished: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "crcert_applications_finished_total",
			Help: "Total number of applications moved to a terminal status by reconciliation",
		}, []string{"status"}),
		ChecksScheduled: promauto.NewCounter(prometheus.CounterOpts{
			Name: "crcert_status_check_batches_scheduled_total",
			Help: "Total number of status-check batches scheduled",
		}),
		NotificationsSent: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "crcert_notifications_sent_total",
			Help: "Total number of push notifications dispatched, by template",
		}, []string{"template"}),
		ProviderCallDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crcert_provider_call_duration_seconds",
			Help:    "Duration of registry provider calls",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
	}
}

func (m *Metrics) IncrementSubmitted(outcome string) {
	m.ApplicationsSubmitted.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncrementFinished(status string, count int) {
	m.ApplicationsFinished.WithLabelValues(status).Add(float64(count))
}

func (m *Metrics) IncrementChecksScheduled() {
	m.ChecksScheduled.Inc()
}

func (m *Metrics) IncrementNotificationsSent(template string) {
	m.NotificationsSent.WithLabelValues(template).Inc()
}

func (m *Metrics) ObserveProviderCall(operation string, d time.Duration) {
	m.ProviderCallDuration.WithLabelValues(operation).Observe(d.Seconds())
}
