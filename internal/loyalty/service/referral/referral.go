// Package referral implements customer registration with referral codes and
// the tiered completion rewards.
package referral

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"gemma/internal/loyalty/metrics"
	"gemma/internal/loyalty/models"
	"gemma/internal/loyalty/ports"
	"gemma/internal/loyalty/service/ledger"
	id "gemma/pkg/domain"
	dErrors "gemma/pkg/domain-errors"
	"gemma/pkg/platform/audit"
	"gemma/pkg/platform/sentinel"
	"gemma/pkg/platform/tx"
	"gemma/pkg/requestcontext"
)

// WelcomeBonus is credited to the referred customer the moment the referral
// is created, independent of whether it ever completes.
const WelcomeBonus = 10

// codeAttempts bounds retries when a freshly generated referral code
// collides with an existing one.
const codeAttempts = 5

// Ledger is the slice of the points ledger the referral engine needs.
type Ledger interface {
	ApplyDelta(ctx context.Context, req ledger.DeltaRequest) (*models.Transaction, error)
}

// Service is the referral engine.
type Service struct {
	customers ports.CustomerStore
	referrals ports.ReferralStore
	ledger    Ledger
	logger    *slog.Logger
	publisher ports.AuditPublisher
	metrics   *metrics.Metrics
	runner    tx.Runner
	rewards   models.RewardTable
	promo     models.PromoWindow
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

// WithTxRunner makes multi-store writes transactional on postgres.
func WithTxRunner(runner tx.Runner) Option {
	return func(s *Service) {
		s.runner = runner
	}
}

func WithRewardTable(table models.RewardTable) Option {
	return func(s *Service) {
		if len(table) > 0 {
			s.rewards = table
		}
	}
}

// WithPromoWindow doubles completion bonuses inside the window.
func WithPromoWindow(window models.PromoWindow) Option {
	return func(s *Service) {
		s.promo = window
	}
}

// New constructs the referral engine.
func New(customers ports.CustomerStore, referrals ports.ReferralStore, pointsLedger Ledger, opts ...Option) *Service {
	s := &Service{
		customers: customers,
		referrals: referrals,
		ledger:    pointsLedger,
		logger:    slog.Default(),
		rewards:   models.DefaultRewardTable(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterInput carries the registration payload. ReferralCode is optional;
// an invalid or unknown code never blocks registration.
type RegisterInput struct {
	Name         string
	Phone        string
	Email        string
	ReferralCode string
}

// Register creates a customer, generates their referral code, and when a
// valid code was presented creates the pending referral plus the welcome
// bonus. Duplicate phone numbers are a conflict.
func (s *Service) Register(ctx context.Context, input RegisterInput) (*models.Customer, error) {
	now := requestcontext.Now(ctx)
	customerID := id.NewCustomerID()

	var customer *models.Customer
	err := s.inTx(ctx, func(ctx context.Context) error {
		var err error
		customer, err = s.createWithFreshCode(ctx, customerID, input, now)
		if err != nil {
			return err
		}

		if input.ReferralCode == "" {
			return nil
		}
		if _, err = s.RegisterReferral(ctx, input.ReferralCode, customerID); err != nil {
			return err
		}

		// The welcome bonus may have moved the balance; return the fresh row.
		customer, err = s.customers.FindByID(ctx, customerID)
		return err
	})
	if err != nil {
		return nil, err
	}

	ports.LogAudit(ctx, s.logger, s.publisher, audit.Event{
		CustomerID: customer.ID,
		Action:     string(audit.EventCustomerCreated),
	}, "referral_code", customer.ReferralCode)
	return customer, nil
}

// createWithFreshCode retries code generation on the rare suffix collision.
// A conflict on the phone number is surfaced; a conflict on the code just
// means regenerate.
func (s *Service) createWithFreshCode(ctx context.Context, customerID id.CustomerID, input RegisterInput, now time.Time) (*models.Customer, error) {
	for attempt := 0; attempt < codeAttempts; attempt++ {
		code := id.GenerateReferralCode(input.Name)
		customer, err := models.NewCustomer(customerID, input.Name, input.Phone, input.Email, code, now)
		if err != nil {
			return nil, err
		}
		err = s.customers.Create(ctx, customer)
		if err == nil {
			return customer, nil
		}
		if !errors.Is(err, sentinel.ErrAlreadyUsed) {
			return nil, err
		}
		if _, lookupErr := s.customers.FindByReferralCode(ctx, code); lookupErr == nil {
			continue
		}
		return nil, dErrors.New(dErrors.CodeConflict, "phone number already registered")
	}
	return nil, dErrors.New(dErrors.CodeConflict, "could not allocate a unique referral code")
}

// RegisterReferral links a new customer to the owner of the presented code
// and credits the welcome bonus. An unknown or malformed code is a soft
// failure; self-referral and double referral are hard errors.
func (s *Service) RegisterReferral(ctx context.Context, rawCode string, newCustomerID id.CustomerID) (*models.Referral, error) {
	now := requestcontext.Now(ctx)

	code, err := id.ParseReferralCode(rawCode)
	if err != nil {
		s.logger.WarnContext(ctx, "ignoring malformed referral code",
			"code", rawCode, "customer_id", newCustomerID)
		return nil, nil
	}

	referrer, err := s.customers.FindByReferralCode(ctx, code)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			s.logger.WarnContext(ctx, "ignoring unknown referral code",
				"code", code, "customer_id", newCustomerID)
			return nil, nil
		}
		return nil, err
	}
	if !referrer.IsActive() {
		s.logger.WarnContext(ctx, "ignoring referral code of inactive customer",
			"code", code, "referrer_id", referrer.ID, "customer_id", newCustomerID)
		return nil, nil
	}

	referral, err := models.NewReferral(id.NewReferralID(), referrer.ID, newCustomerID, now)
	if err != nil {
		return nil, err
	}

	err = s.inTx(ctx, func(ctx context.Context) error {
		if err := s.referrals.Create(ctx, referral); err != nil {
			if errors.Is(err, sentinel.ErrAlreadyUsed) {
				return dErrors.New(dErrors.CodeConflict, "customer was already referred")
			}
			return err
		}

		_, err := s.customers.Execute(ctx, newCustomerID,
			func(c *models.Customer) error { return c.CanMutate() },
			func(c *models.Customer) { c.ReferredBy = &referral.ReferrerID },
		)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.New(dErrors.CodeNotFound, "customer not found")
			}
			return err
		}

		_, err = s.ledger.ApplyDelta(ctx, ledger.DeltaRequest{
			CustomerID: newCustomerID,
			Delta:      WelcomeBonus,
			Reason:     models.ReasonReferralWelcome,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.ReferralsCreated.Inc()
	}
	ports.LogAudit(ctx, s.logger, s.publisher, audit.Event{
		CustomerID: newCustomerID,
		Action:     string(audit.EventReferralCreated),
		Subject:    referral.ID.String(),
	}, "referrer_id", referrer.ID)
	return referral, nil
}

// CompleteReferral completes the pending referral naming the customer as
// referred and disburses the tiered bonus to the referrer. Completing twice
// reports CodeAlreadyCompleted and changes nothing.
func (s *Service) CompleteReferral(ctx context.Context, referredID id.CustomerID) (*models.Referral, error) {
	referral, err := s.referrals.FindByReferred(ctx, referredID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "no referral for customer")
		}
		return nil, err
	}
	if err := referral.CanComplete(); err != nil {
		return nil, err
	}
	return s.complete(ctx, referral.ID)
}

// OnQualifyingSale is the ledger's sale hook. The first qualifying sale
// completes the customer's pending referral; later sales find nothing
// pending and return without effect.
func (s *Service) OnQualifyingSale(ctx context.Context, customerID id.CustomerID) {
	_, err := s.CompleteReferral(ctx, customerID)
	if err == nil {
		return
	}
	if dErrors.HasCode(err, dErrors.CodeNotFound) || dErrors.HasCode(err, dErrors.CodeAlreadyCompleted) {
		return
	}
	s.logger.ErrorContext(ctx, "referral completion after sale failed",
		"customer_id", customerID, "error", err)
}

// complete performs the completion. The reward tier is chosen from the
// referrer's completed count BEFORE this completion, so a referrer's fifth
// completion still pays at the previous band.
func (s *Service) complete(ctx context.Context, referralID id.ReferralID) (*models.Referral, error) {
	now := requestcontext.Now(ctx)

	var completed *models.Referral
	err := s.inTx(ctx, func(ctx context.Context) error {
		referral, err := s.referrals.FindByID(ctx, referralID)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.New(dErrors.CodeNotFound, "referral not found")
			}
			return err
		}

		// In memory mode the completion flip is not rolled back on a later
		// failure, so the referrer must be creditable before the row changes.
		referrer, err := s.customers.FindByID(ctx, referral.ReferrerID)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.New(dErrors.CodeNotFound, "referrer not found")
			}
			return err
		}
		if err := referrer.CanMutate(); err != nil {
			return err
		}

		countBefore, err := s.referrals.CountCompletedByReferrer(ctx, referral.ReferrerID)
		if err != nil {
			return err
		}
		tier := s.rewards.TierFor(countBefore)
		points := tier.Points()
		if s.promo.Active(now) {
			points *= 2
		}

		completed, err = s.referrals.Execute(ctx, referralID,
			func(r *models.Referral) error { return r.CanComplete() },
			func(r *models.Referral) { r.ApplyCompletion(points, now) },
		)
		if err != nil {
			return err
		}

		if _, err := s.ledger.ApplyDelta(ctx, ledger.DeltaRequest{
			CustomerID: referral.ReferrerID,
			Delta:      points,
			Reason:     models.ReasonReferralBonus,
		}); err != nil {
			return err
		}

		_, err = s.customers.Execute(ctx, referral.ReferrerID,
			func(c *models.Customer) error { return nil },
			func(c *models.Customer) { c.RecordCompletedReferral(points, now) },
		)
		return err
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.ReferralsCompleted.Inc()
	}
	ports.LogAudit(ctx, s.logger, s.publisher, audit.Event{
		CustomerID: completed.ReferrerID,
		Action:     string(audit.EventReferralCompleted),
		Subject:    completed.ID.String(),
	}, "points_awarded", completed.PointsAwarded)
	return completed, nil
}

// ReferrerOverview summarizes a customer's referral standing for display.
type ReferrerOverview struct {
	Completed    int               `json:"completed"`
	Pending      int               `json:"pending"`
	PointsEarned int64             `json:"points_earned"`
	CurrentTier  models.RewardTier `json:"current_tier"`
	NextReward   int64             `json:"next_reward"`
}

// Overview computes the referrer's standing from referral rows.
func (s *Service) Overview(ctx context.Context, customerID id.CustomerID) (*ReferrerOverview, error) {
	all, err := s.referrals.ListByReferrer(ctx, customerID)
	if err != nil {
		return nil, err
	}

	overview := &ReferrerOverview{}
	for _, r := range all {
		if r.IsCompleted() {
			overview.Completed++
			overview.PointsEarned += r.PointsAwarded
		} else {
			overview.Pending++
		}
	}
	overview.CurrentTier = s.rewards.TierFor(overview.Completed)
	overview.NextReward = overview.CurrentTier.Points()
	return overview, nil
}

func (s *Service) inTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.runner == nil {
		return fn(ctx)
	}
	return tx.RunInTx(ctx, s.runner, fn)
}
