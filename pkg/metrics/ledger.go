package metrics

import "github.com/prometheus/client_golang/prometheus"

// Accept outcomes recorded by the dispatch engine.
const (
	AcceptWon             = "won"
	AcceptAlreadyAssigned = "already_assigned"
	AcceptNoPending       = "no_pending"
	AcceptConflict        = "conflict"
	AcceptError           = "error"
)

// LedgerMetrics tracks money movement and the contention around it.
type LedgerMetrics struct {
	txRetries   prometheus.Counter
	txExhausted prometheus.Counter
	postings    *prometheus.CounterVec
	settlements *prometheus.CounterVec
	accepts     *prometheus.CounterVec
}

func NewLedgerMetrics(reg prometheus.Registerer) *LedgerMetrics {
	if reg == nil {
		return &LedgerMetrics{}
	}
	m := &LedgerMetrics{
		txRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tx_retries_total",
			Help:      "Transactions replayed after losing a concurrent write.",
		}),
		txExhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tx_conflicts_exhausted_total",
			Help:      "Transactions that gave up after the retry budget.",
		}),
		postings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_postings_total",
			Help:      "Wallet postings written, by transaction type.",
		}, []string{"type"}),
		settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlements_total",
			Help:      "Orders settled, by order kind.",
		}, []string{"kind"}),
		accepts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_accept_total",
			Help:      "Courier accept attempts, by outcome.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(m.txRetries, m.txExhausted, m.postings, m.settlements, m.accepts)
	return m
}

// TxRetried satisfies db.RetryObserver.
func (m *LedgerMetrics) TxRetried() {
	if m == nil || m.txRetries == nil {
		return
	}
	m.txRetries.Inc()
}

// TxConflictExhausted satisfies db.RetryObserver.
func (m *LedgerMetrics) TxConflictExhausted() {
	if m == nil || m.txExhausted == nil {
		return
	}
	m.txExhausted.Inc()
}

func (m *LedgerMetrics) IncPosting(txType string) {
	if m == nil || m.postings == nil {
		return
	}
	m.postings.WithLabelValues(normalizeLabel(txType)).Inc()
}

func (m *LedgerMetrics) IncSettlement(kind string) {
	if m == nil || m.settlements == nil {
		return
	}
	m.settlements.WithLabelValues(normalizeLabel(kind)).Inc()
}

func (m *LedgerMetrics) ObserveAccept(outcome string) {
	if m == nil || m.accepts == nil {
		return
	}
	m.accepts.WithLabelValues(normalizeLabel(outcome)).Inc()
}
