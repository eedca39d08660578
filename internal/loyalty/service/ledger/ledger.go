// Package ledger applies point deltas to customer balances and records every
// change as an append-only transaction row.
package ledger

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"gemma/internal/loyalty/metrics"
	"gemma/internal/loyalty/models"
	"gemma/internal/loyalty/ports"
	id "gemma/pkg/domain"
	dErrors "gemma/pkg/domain-errors"
	"gemma/pkg/platform/audit"
	"gemma/pkg/platform/sentinel"
	"gemma/pkg/platform/tx"
	"gemma/pkg/requestcontext"
)

// conflictRetries bounds the internal retry loop on concurrent update
// conflicts before the conflict is surfaced to the caller.
const conflictRetries = 3

var tracer = otel.Tracer("gemma/loyalty/ledger")

// SaleHook is invoked after a qualifying sale row commits. The referral
// engine registers itself here to complete pending referrals.
type SaleHook func(ctx context.Context, customerID id.CustomerID)

// Service is the points ledger. All balance mutations go through ApplyDelta
// so clamping, auditing and the transaction log stay consistent.
type Service struct {
	customers     ports.CustomerStore
	transactions  ports.TransactionStore
	logger        *slog.Logger
	publisher     ports.AuditPublisher
	metrics       *metrics.Metrics
	runner        tx.Runner
	pointsPerEuro float64
	prizes        models.PrizeTable
	saleHook      SaleHook
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

// WithTxRunner makes multi-store writes transactional. Pass the *sql.DB when
// running on postgres stores; leave unset for the in-memory stores.
func WithTxRunner(runner tx.Runner) Option {
	return func(s *Service) {
		s.runner = runner
	}
}

func WithPointsPerEuro(rate float64) Option {
	return func(s *Service) {
		if rate > 0 {
			s.pointsPerEuro = rate
		}
	}
}

func WithPrizes(prizes models.PrizeTable) Option {
	return func(s *Service) {
		s.prizes = prizes
	}
}

// New constructs the ledger service.
func New(customers ports.CustomerStore, transactions ports.TransactionStore, opts ...Option) *Service {
	s := &Service{
		customers:     customers,
		transactions:  transactions,
		logger:        slog.Default(),
		pointsPerEuro: 1,
		prizes:        models.DefaultPrizeTable(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetSaleHook registers the qualifying-sale callback. Wired after
// construction because the referral engine depends on the ledger.
func (s *Service) SetSaleHook(hook SaleHook) {
	s.saleHook = hook
}

// DeltaRequest describes one balance change.
type DeltaRequest struct {
	CustomerID id.CustomerID
	Delta      int64
	Reason     models.Reason
}

// ApplyDelta applies the delta to the customer's balance and appends the
// transaction row atomically. Deductions clamp at zero; the absorbed
// remainder stays visible as the gap between Delta and the recorded
// balances. Inactive customers are rejected before any write.
func (s *Service) ApplyDelta(ctx context.Context, req DeltaRequest) (*models.Transaction, error) {
	ctx, span := tracer.Start(ctx, "ledger.ApplyDelta")
	defer span.End()
	start := time.Now()

	if req.CustomerID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "customer id is required")
	}
	if !req.Reason.Valid() {
		return nil, dErrors.Newf(dErrors.CodeInvalidInput, "unknown transaction reason %q", req.Reason)
	}
	if req.Delta == 0 && req.Reason != models.ReasonSale {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "delta must be non-zero")
	}

	var row *models.Transaction
	var err error
	for attempt := 0; attempt < conflictRetries; attempt++ {
		row, err = s.applyOnce(ctx, req)
		if err == nil || !errors.Is(err, sentinel.ErrConflict) {
			break
		}
		if s.metrics != nil {
			s.metrics.ConflictRetries.Inc()
		}
		s.logger.DebugContext(ctx, "retrying after concurrent update conflict",
			"customer_id", req.CustomerID, "attempt", attempt+1)
	}
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "customer not found")
		}
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeConflict, "balance update conflicted, retry")
		}
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.ObserveApply(start)
		s.metrics.IncrementTransaction(string(row.Reason))
		if row.Applied() != row.Delta {
			s.metrics.ClampedDeductions.Inc()
		}
	}

	action := audit.EventPointsCredited
	if row.Delta < 0 {
		action = audit.EventPointsDebited
	}
	ports.LogAudit(ctx, s.logger, s.publisher, audit.Event{
		CustomerID: req.CustomerID,
		Action:     string(action),
		Reason:     string(row.Reason),
	}, "delta", row.Delta, "new_balance", row.NewBalance)

	if row.IsQualifyingSale() && s.saleHook != nil {
		s.saleHook(ctx, req.CustomerID)
	}
	return row, nil
}

// applyOnce performs one atomic customer mutation plus ledger append. On
// postgres both writes share a transaction; the row lock taken by Execute
// serializes concurrent deltas for the same customer.
func (s *Service) applyOnce(ctx context.Context, req DeltaRequest) (*models.Transaction, error) {
	now := requestcontext.Now(ctx)
	operatorID := requestcontext.OperatorID(ctx)

	var row *models.Transaction
	err := s.inTx(ctx, func(ctx context.Context) error {
		_, err := s.customers.Execute(ctx, req.CustomerID,
			func(c *models.Customer) error {
				return c.CanMutate()
			},
			func(c *models.Customer) {
				previous, newBalance := c.ApplyPointsDelta(req.Delta, now)
				row = &models.Transaction{
					ID:              id.TransactionID(uuid.New()),
					CustomerID:      req.CustomerID,
					Delta:           req.Delta,
					PreviousBalance: previous,
					NewBalance:      newBalance,
					Reason:          req.Reason,
					OperatorID:      operatorID,
					CreatedAt:       now,
				}
			},
		)
		if err != nil {
			return err
		}
		return s.transactions.Append(ctx, row)
	})
	if err != nil {
		return nil, err
	}
	return row, nil
}

func (s *Service) inTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.runner == nil {
		return fn(ctx)
	}
	return tx.RunInTx(ctx, s.runner, fn)
}

// Sale converts a purchase amount to points and credits them. The conversion
// floors, so fractional remainders are never awarded. A sale small enough to
// floor to zero still lands in the ledger for reporting but does not trigger
// referral completion.
func (s *Service) Sale(ctx context.Context, customerID id.CustomerID, amount float64) (*models.Transaction, error) {
	if amount <= 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "sale amount must be positive")
	}
	return s.ApplyDelta(ctx, DeltaRequest{
		CustomerID: customerID,
		Delta:      models.SaleToPoints(amount, s.pointsPerEuro),
		Reason:     models.ReasonSale,
	})
}

// Redeem deducts the cost of a catalog prize. The deduction clamps at zero
// like any other; the transaction row keeps the requested cost visible.
func (s *Service) Redeem(ctx context.Context, customerID id.CustomerID, prizeName string) (*models.Transaction, error) {
	prize, ok := s.prizes.Find(prizeName)
	if !ok {
		return nil, dErrors.Newf(dErrors.CodeNotFound, "unknown prize %q", prizeName)
	}
	return s.ApplyDelta(ctx, DeltaRequest{
		CustomerID: customerID,
		Delta:      -prize.Cost,
		Reason:     models.ReasonPrizeRedemption,
	})
}

// Prizes exposes the configured catalog for display.
func (s *Service) Prizes() models.PrizeTable {
	return s.prizes
}

// GetCustomer resolves a customer or reports CodeNotFound.
func (s *Service) GetCustomer(ctx context.Context, customerID id.CustomerID) (*models.Customer, error) {
	customer, err := s.customers.FindByID(ctx, customerID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "customer not found")
		}
		return nil, err
	}
	return customer, nil
}

// History returns the customer's ledger rows, newest first.
func (s *Service) History(ctx context.Context, customerID id.CustomerID, limit int) ([]*models.Transaction, error) {
	if _, err := s.GetCustomer(ctx, customerID); err != nil {
		return nil, err
	}
	return s.transactions.ListByCustomer(ctx, customerID, limit)
}
