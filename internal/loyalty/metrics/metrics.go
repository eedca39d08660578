package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the loyalty module.
// Tracks ledger throughput, clamped deductions, referral activity and
// reconciliation repairs.
type Metrics struct {
	PointsTransactions *prometheus.CounterVec
	ClampedDeductions  prometheus.Counter
	ReferralsCreated   prometheus.Counter
	ReferralsCompleted prometheus.Counter
	ReconcileRepairs   prometheus.Counter
	ApplyDuration      prometheus.Histogram
	ConflictRetries    prometheus.Counter
}

// New creates a Metrics instance with all loyalty module metrics registered.
func New() *Metrics {
	return &Metrics{
		PointsTransactions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gemma_points_transactions_total",
			Help: "Total ledger rows appended, by reason",
		}, []string{"reason"}),
		ClampedDeductions: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gemma_points_clamped_deductions_total",
			Help: "Deductions that clamped at a zero balance",
		}),
		ReferralsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gemma_referrals_created_total",
			Help: "Total pending referrals created at registration",
		}),
		ReferralsCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gemma_referrals_completed_total",
			Help: "Total referrals completed and disbursed",
		}),
		ReconcileRepairs: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gemma_reconcile_repairs_total",
			Help: "Cached referral counters repaired by the reconciliation sweep",
		}),
		ApplyDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "gemma_ledger_apply_duration_seconds",
			Help:    "Duration of ledger delta applications (terminal critical path)",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		ConflictRetries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gemma_ledger_conflict_retries_total",
			Help: "Internal retries after concurrent update conflicts",
		}),
	}
}

// ObserveApply records the duration of a ledger apply.
// Call with time.Now() captured at the start of the operation.
func (m *Metrics) ObserveApply(start time.Time) {
	m.ApplyDuration.Observe(time.Since(start).Seconds())
}

// IncrementTransaction records one appended ledger row.
func (m *Metrics) IncrementTransaction(reason string) {
	m.PointsTransactions.WithLabelValues(reason).Inc()
}
