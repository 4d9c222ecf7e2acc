package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the write path and the settlement pipeline.
type Metrics struct {
	// Retry attempts and terminal exhaustions by operation
	RetryAttempts  *prometheus.CounterVec
	RetryExhausted *prometheus.CounterVec

	// Remote writes by collection and outcome
	RemoteWrites *prometheus.CounterVec

	// Settlements by result: "created" or "duplicate"
	Settlements *prometheus.CounterVec

	// Notifications by category and result: "emitted" or "suppressed"
	Notifications *prometheus.CounterVec

	// Mutations parked in the sync buffer
	SyncBufferSize prometheus.Gauge
}

// New registers every metric on reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		RetryAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "taskledger_retry_attempts_total",
			Help: "Total retried attempts of remote operations",
		}, []string{"op"}),

		RetryExhausted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "taskledger_retry_exhausted_total",
			Help: "Total operations that failed on every allowed attempt",
		}, []string{"op"}),

		RemoteWrites: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "taskledger_remote_writes_total",
			Help: "Total remote writes by collection and outcome",
		}, []string{"collection", "outcome"}), // outcome: "ok", "failed", "superseded", "replayed"

		Settlements: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "taskledger_settlements_total",
			Help: "Total settlement requests by result",
		}, []string{"result"}),

		Notifications: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "taskledger_notifications_total",
			Help: "Total notification emissions by category and result",
		}, []string{"category", "result"}),

		SyncBufferSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "taskledger_sync_buffer_items",
			Help: "Mutations waiting in the sync buffer",
		}),
	}
}

// IncRetryAttempt records one retried attempt.
func (m *Metrics) IncRetryAttempt(op string) {
	if m != nil {
		m.RetryAttempts.WithLabelValues(op).Inc()
	}
}

// IncRetryExhausted records an operation that gave up.
func (m *Metrics) IncRetryExhausted(op string) {
	if m != nil {
		m.RetryExhausted.WithLabelValues(op).Inc()
	}
}

// IncRemoteWrite records the outcome of a remote write.
func (m *Metrics) IncRemoteWrite(collection, outcome string) {
	if m != nil {
		m.RemoteWrites.WithLabelValues(collection, outcome).Inc()
	}
}

// IncSettlement records a settlement request.
func (m *Metrics) IncSettlement(result string) {
	if m != nil {
		m.Settlements.WithLabelValues(result).Inc()
	}
}

// IncNotification records an emission attempt.
func (m *Metrics) IncNotification(category, result string) {
	if m != nil {
		m.Notifications.WithLabelValues(category, result).Inc()
	}
}

// SetSyncBufferSize updates the parked mutation gauge.
func (m *Metrics) SetSyncBufferSize(n int) {
	if m != nil {
		m.SyncBufferSize.Set(float64(n))
	}
}
