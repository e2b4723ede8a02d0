package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "moneybridge"

// Engine holds the transaction engine's Prometheus collectors.
type Engine struct {
	transitions   *prometheus.CounterVec
	failures      *prometheus.CounterVec
	ledgerEntries *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	txRetries     prometheus.Counter
	outbox        *prometheus.CounterVec
}

func NewEngine(reg prometheus.Registerer) *Engine {
	f := promauto.With(reg)
	return &Engine{
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_total",
			Help:      "Transactions that reached a status, by type and status.",
		}, []string{"type", "status"}),
		failures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operation_errors_total",
			Help:      "Rejected or failed engine operations, by operation and reason.",
		}, []string{"operation", "reason"}),
		ledgerEntries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_entries_total",
			Help:      "Ledger entries posted, by account and entry type.",
		}, []string{"account", "entry_type"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Engine operation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		txRetries: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "db_tx_retries_total",
			Help:      "Units of work restarted after a serialization failure or deadlock.",
		}),
		outbox: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_events_total",
			Help:      "Outbox events handled by the relay, by result.",
		}, []string{"result"}),
	}
}

func (e *Engine) TransactionStatus(txType, status string) {
	e.transitions.WithLabelValues(txType, status).Inc()
}

func (e *Engine) OperationFailed(operation, reason string) {
	e.failures.WithLabelValues(operation, reason).Inc()
}

func (e *Engine) LedgerEntry(account, entryType string) {
	e.ledgerEntries.WithLabelValues(account, entryType).Inc()
}

func (e *Engine) ObserveDuration(operation string, started time.Time) {
	e.duration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
}

func (e *Engine) TxRetry() {
	e.txRetries.Inc()
}

func (e *Engine) OutboxResult(result string) {
	e.outbox.WithLabelValues(result).Inc()
}
