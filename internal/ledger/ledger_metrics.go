package ledger

import (
	"time"

	"github.com/mbd888/krishiconnect/internal/money"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// LedgerOpsTotal counts standalone wallet operations by kind.
	LedgerOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "krishiconnect",
			Name:      "ledger_operations_total",
			Help:      "Total wallet operations by kind.",
		},
		[]string{"kind"},
	)

	// LedgerOpDuration observes operation latency by kind.
	LedgerOpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "krishiconnect",
			Name:      "ledger_operation_duration_seconds",
			Help:      "Wallet operation duration in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		},
		[]string{"kind"},
	)

	// TransactionsTotal counts committed transactions by kind.
	TransactionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "krishiconnect",
			Name:      "ledger_transactions_total",
			Help:      "Committed ledger transactions by kind.",
		},
		[]string{"kind"},
	)

	// AmountTotal sums committed transaction amounts by kind, in rupees.
	AmountTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "krishiconnect",
			Name:      "ledger_amount_total",
			Help:      "Sum of committed transaction amounts by kind.",
		},
		[]string{"kind"},
	)

	// AuditMismatches counts wallets whose balance disagreed with history.
	AuditMismatches = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "krishiconnect",
			Name:      "ledger_audit_mismatches_total",
			Help:      "Wallets whose stored balance disagreed with the replayed history.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		LedgerOpsTotal,
		LedgerOpDuration,
		TransactionsTotal,
		AmountTotal,
		AuditMismatches,
	)
}

// observeOp increments the operation counter and returns a function to observe duration.
func observeOp(kind string) func() {
	LedgerOpsTotal.WithLabelValues(kind).Inc()
	start := time.Now()
	return func() {
		LedgerOpDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	}
}

// RecordPosted updates counters for committed transactions. Call only after
// the unit of work holding them has committed.
func RecordPosted(txns ...*Transaction) {
	for _, t := range txns {
		if t == nil {
			continue
		}
		TransactionsTotal.WithLabelValues(string(t.Kind)).Inc()
		f, _ := money.MustParse(t.Amount).Float64()
		AmountTotal.WithLabelValues(string(t.Kind)).Add(f)
	}
}
