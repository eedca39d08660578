// Package reconcile repairs cached referral counters from referral rows.
// The rows are the source of truth; caches are only ever overwritten to
// match them, never the reverse.
package reconcile

import (
	"context"
	"errors"
	"log/slog"

	"gemma/internal/loyalty/metrics"
	"gemma/internal/loyalty/models"
	"gemma/internal/loyalty/ports"
	id "gemma/pkg/domain"
	dErrors "gemma/pkg/domain-errors"
	"gemma/pkg/platform/audit"
	"gemma/pkg/platform/sentinel"
	"gemma/pkg/requestcontext"
)

// Service is the reconciliation checker.
type Service struct {
	customers ports.CustomerStore
	referrals ports.ReferralStore
	logger    *slog.Logger
	publisher ports.AuditPublisher
	metrics   *metrics.Metrics
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithAuditPublisher(publisher ports.AuditPublisher) Option {
	return func(s *Service) {
		s.publisher = publisher
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func New(customers ports.CustomerStore, referrals ports.ReferralStore, opts ...Option) *Service {
	s := &Service{
		customers: customers,
		referrals: referrals,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Report describes one customer's reconciliation outcome.
type Report struct {
	CustomerID     id.CustomerID `json:"customer_id"`
	ExpectedCount  int           `json:"expected_count"`
	StoredCount    int           `json:"stored_count"`
	ExpectedPoints int64         `json:"expected_points"`
	StoredPoints   int64         `json:"stored_points"`
	Repaired       bool          `json:"repaired"`
}

// Reconcile compares the customer's cached referral_count and
// referral_points_earned against the referral rows and overwrites the caches
// when they drifted. The reported stored values are the pre-repair ones.
func (s *Service) Reconcile(ctx context.Context, customerID id.CustomerID) (*Report, error) {
	expectedCount, err := s.referrals.CountCompletedByReferrer(ctx, customerID)
	if err != nil {
		return nil, err
	}
	expectedPoints, err := s.referrals.SumPointsByReferrer(ctx, customerID)
	if err != nil {
		return nil, err
	}

	report := &Report{
		CustomerID:     customerID,
		ExpectedCount:  expectedCount,
		ExpectedPoints: expectedPoints,
	}

	_, err = s.customers.Execute(ctx, customerID,
		func(c *models.Customer) error {
			report.StoredCount = c.ReferralCount
			report.StoredPoints = c.ReferralPointsEarned
			return nil
		},
		func(c *models.Customer) {
			if c.ReferralCount != expectedCount || c.ReferralPointsEarned != expectedPoints {
				c.ReferralCount = expectedCount
				c.ReferralPointsEarned = expectedPoints
				c.UpdatedAt = requestcontext.Now(ctx)
				report.Repaired = true
			}
		},
	)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "customer not found")
		}
		return nil, err
	}

	if report.Repaired {
		if s.metrics != nil {
			s.metrics.ReconcileRepairs.Inc()
		}
		ports.LogAudit(ctx, s.logger, s.publisher, audit.Event{
			CustomerID: customerID,
			Action:     string(audit.EventReferralReconciled),
		}, "stored_count", report.StoredCount, "expected_count", report.ExpectedCount,
			"stored_points", report.StoredPoints, "expected_points", report.ExpectedPoints)
	}
	return report, nil
}

// ReconcileAll sweeps every customer. Errors on individual customers are
// logged and skipped so one bad record cannot stall the sweep.
func (s *Service) ReconcileAll(ctx context.Context) ([]*Report, error) {
	customers, err := s.customers.List(ctx)
	if err != nil {
		return nil, err
	}

	var repaired []*Report
	for _, c := range customers {
		if err := ctx.Err(); err != nil {
			return repaired, err
		}
		report, err := s.Reconcile(ctx, c.ID)
		if err != nil {
			s.logger.ErrorContext(ctx, "reconcile failed for customer",
				"customer_id", c.ID, "error", err)
			continue
		}
		if report.Repaired {
			repaired = append(repaired, report)
		}
	}
	return repaired, nil
}
