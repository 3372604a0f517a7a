package ledger

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// LedgerOpsTotal counts ledger operations by type.
	LedgerOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "settlement",
			Name:      "ledger_operations_total",
			Help:      "Total ledger operations by type.",
		},
		[]string{"type"},
	)

	// LedgerOpDuration observes operation latency by type.
	LedgerOpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "settlement",
			Name:      "ledger_operation_duration_seconds",
			Help:      "Ledger operation duration in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		},
		[]string{"type"},
	)

	// LedgerRecordsTotal counts finance records written by currency and reason.
	LedgerRecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "settlement",
			Name:      "ledger_records_total",
			Help:      "Finance records written by currency and reason code.",
		},
		[]string{"currency", "reason"},
	)

	// LedgerRejectionsTotal counts operations rejected without mutation.
	LedgerRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "settlement",
			Name:      "ledger_rejections_total",
			Help:      "Ledger operations rejected by cause.",
		},
		[]string{"cause"},
	)
)

func init() {
	prometheus.MustRegister(
		LedgerOpsTotal,
		LedgerOpDuration,
		LedgerRecordsTotal,
		LedgerRejectionsTotal,
	)
}

// observeOp increments the operation counter and returns a function to observe duration.
func observeOp(opType string) func() {
	LedgerOpsTotal.WithLabelValues(opType).Inc()
	start := time.Now()
	return func() {
		LedgerOpDuration.WithLabelValues(opType).Observe(time.Since(start).Seconds())
	}
}

func observeRejection(err error) {
	cause := "other"
	switch {
	case errors.Is(err, ErrInsufficientFunds):
		cause = "insufficient_funds"
	case errors.Is(err, ErrConcurrentModification):
		cause = "concurrent_modification"
	case errors.Is(err, ErrAccountNotFound):
		cause = "account_not_found"
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrInvalidPosting), errors.Is(err, ErrInvalidCurrency):
		cause = "invalid"
	}
	LedgerRejectionsTotal.WithLabelValues(cause).Inc()
}
