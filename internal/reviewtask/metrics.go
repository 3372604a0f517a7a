package reviewtask

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/praisedesk/settlement/internal/ledger"
)

var (
	// TransitionsTotal counts lifecycle events by outcome.
	TransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "settlement",
			Name:      "review_task_transitions_total",
			Help:      "Review task events by event and result.",
		},
		[]string{"event", "result"},
	)

	// TransitionDuration observes how long a transition takes end to end.
	TransitionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "settlement",
			Name:      "review_task_transition_duration_seconds",
			Help:      "Review task transition duration in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		},
		[]string{"event"},
	)

	// EscalationsTotal counts tasks flagged for admin attention.
	EscalationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "settlement",
			Name:      "review_task_escalations_total",
			Help:      "Uploaded tasks escalated after waiting too long for confirmation.",
		},
	)

	// CompensationFailuresTotal counts ledger effects that could not be reversed.
	CompensationFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "settlement",
			Name:      "review_task_compensation_failures_total",
			Help:      "Ledger reversals that failed and need manual resolution.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		TransitionsTotal,
		TransitionDuration,
		EscalationsTotal,
		CompensationFailuresTotal,
	)
}

// observeTransition starts timing ev and returns a function recording its outcome.
func observeTransition(ev Event) func(err error) {
	start := time.Now()
	return func(err error) {
		TransitionDuration.WithLabelValues(string(ev)).Observe(time.Since(start).Seconds())
		TransitionsTotal.WithLabelValues(string(ev), resultLabel(err)).Inc()
	}
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrConcurrentModification):
		return "concurrent_modification"
	case errors.Is(err, ErrTaskNotFound):
		return "not_found"
	}
	return "error"
}
