package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	PayloadsReceivedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hookbridge_payloads_received_total",
			Help: "Total number of inbound webhook payloads by result.",
		},
		[]string{"result"}, // accepted, malformed
	)

	DeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hookbridge_deliveries_total",
			Help: "Total number of terminal delivery outcomes by status.",
		},
		[]string{"status"}, // delivered, failed
	)

	RetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hookbridge_retries_total",
			Help: "Total number of delivery retries by reason.",
		},
		[]string{"reason"}, // timeout, session_corrupted, transient_network
	)

	SessionReplacementsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hookbridge_session_replacements_total",
			Help: "Total number of corrupted browser sessions replaced.",
		},
	)

	AttemptLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hookbridge_attempt_latency_seconds",
			Help:    "Latency of individual outbound delivery attempts.",
			Buckets: prometheus.DefBuckets,
		},
	)

	SessionsBusy = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hookbridge_sessions_busy",
			Help: "Number of browser sessions currently performing a delivery.",
		},
	)
)

func MustRegister(reg *prometheus.Registry) {
	reg.MustRegister(
		PayloadsReceivedTotal,
		DeliveriesTotal,
		RetriesTotal,
		SessionReplacementsTotal,
		AttemptLatency,
		SessionsBusy,
	)
}

// RecordReceived counts an inbound payload, result is "accepted" or "malformed".
func RecordReceived(result string) {
	PayloadsReceivedTotal.WithLabelValues(result).Inc()
}

// RecordDelivery counts a terminal delivery outcome.
func RecordDelivery(status string) {
	DeliveriesTotal.WithLabelValues(status).Inc()
}

// RecordRetry counts one retried attempt by failure reason.
func RecordRetry(reason string) {
	RetriesTotal.WithLabelValues(reason).Inc()
}

// RecordSessionReplaced counts a corrupted session being swapped out.
func RecordSessionReplaced() {
	SessionReplacementsTotal.Inc()
}

// RecordAttemptLatency observes the duration of one outbound attempt.
func RecordAttemptLatency(d time.Duration) {
	AttemptLatency.Observe(d.Seconds())
}
