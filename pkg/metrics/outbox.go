package metrics

import "github.com/prometheus/client_golang/prometheus"

// Relay outcomes recorded per outbox row.
const (
	OutboxPublished    = "published"
	OutboxRetried      = "retried"
	OutboxDeadLettered = "dead_lettered"
)

// OutboxMetrics counts what the publisher did with each outbox row.
type OutboxMetrics struct {
	rows    *prometheus.CounterVec
	batches prometheus.Histogram
}

func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return &OutboxMetrics{}
	}
	m := &OutboxMetrics{
		rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_rows_total",
			Help:      "Outbox rows handled by the publisher, by event type and outcome.",
		}, []string{"event_type", "outcome"}),
		batches: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "outbox_batch_size",
			Help:      "Rows claimed per publisher batch.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250},
		}),
	}
	reg.MustRegister(m.rows, m.batches)
	return m
}

// Row records the outcome for one outbox row.
func (m *OutboxMetrics) Row(eventType, outcome string) {
	if m == nil || m.rows == nil {
		return
	}
	m.rows.WithLabelValues(normalizeLabel(eventType), normalizeLabel(outcome)).Inc()
}

// Batch records how many rows a batch claimed.
func (m *OutboxMetrics) Batch(size int) {
	if m == nil || m.batches == nil {
		return
	}
	m.batches.Observe(float64(size))
}
