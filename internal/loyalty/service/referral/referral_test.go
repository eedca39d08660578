package referral

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"gemma/internal/loyalty/models"
	"gemma/internal/loyalty/service/ledger"
	"gemma/internal/loyalty/store/customer"
	"gemma/internal/loyalty/store/referral"
	"gemma/internal/loyalty/store/transaction"
	id "gemma/pkg/domain"
	dErrors "gemma/pkg/domain-errors"
	"gemma/pkg/requestcontext"
)

type ReferralSuite struct {
	suite.Suite
	customers    *customer.InMemory
	referrals    *referral.InMemory
	transactions *transaction.InMemory
	ledger       *ledger.Service
	service      *Service
	ctx          context.Context
	phoneSeq     int
}

func (s *ReferralSuite) SetupTest() {
	s.customers = customer.NewInMemory()
	s.referrals = referral.NewInMemory()
	s.transactions = transaction.NewInMemory()
	s.ledger = ledger.New(s.customers, s.transactions)
	s.service = New(s.customers, s.referrals, s.ledger)
	s.ledger.SetSaleHook(s.service.OnQualifyingSale)
	s.ctx = context.Background()
	s.phoneSeq = 0
}

func TestReferralSuite(t *testing.T) {
	suite.Run(t, new(ReferralSuite))
}

func (s *ReferralSuite) register(name, code string) *models.Customer {
	s.phoneSeq++
	c, err := s.service.Register(s.ctx, RegisterInput{
		Name:         name,
		Phone:        fmt.Sprintf("+3933300%05d", s.phoneSeq),
		Email:        name + "@example.it",
		ReferralCode: code,
	})
	s.Require().NoError(err)
	return c
}

func (s *ReferralSuite) points(customerID id.CustomerID) int64 {
	c, err := s.customers.FindByID(s.ctx, customerID)
	s.Require().NoError(err)
	return c.Points
}

func (s *ReferralSuite) TestRegister() {
	s.Run("without a code", func() {
		c := s.register("Giulia", "")
		s.NotEmpty(c.ReferralCode)
		s.Equal(int64(0), c.Points)
		s.Nil(c.ReferredBy)
	})

	s.Run("with a valid code credits the welcome bonus", func() {
		referrer := s.register("Anna", "")
		referred := s.register("Bruno", referrer.ReferralCode.String())

		s.Equal(int64(WelcomeBonus), s.points(referred.ID))
		s.Equal(int64(0), s.points(referrer.ID))

		pending, err := s.referrals.FindPendingByReferred(s.ctx, referred.ID)
		s.Require().NoError(err)
		s.Equal(referrer.ID, pending.ReferrerID)
		s.Equal(models.ReferralStatusPending, pending.Status)
	})

	s.Run("malformed code is ignored", func() {
		c := s.register("Carla", "not a code!!")
		s.Equal(int64(0), s.points(c.ID))
		_, err := s.referrals.FindPendingByReferred(s.ctx, c.ID)
		s.Require().Error(err)
	})

	s.Run("unknown code is ignored", func() {
		c := s.register("Dario", "GHOST-0000")
		s.Equal(int64(0), s.points(c.ID))
	})

	s.Run("duplicate phone is a conflict", func() {
		first := s.register("Elena", "")
		_, err := s.service.Register(s.ctx, RegisterInput{
			Name:  "Elena Bis",
			Phone: first.Phone,
		})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})
}

func (s *ReferralSuite) TestRegisterReferral() {
	s.Run("self referral is rejected", func() {
		c := s.register("Fabio", "")
		_, err := s.service.RegisterReferral(s.ctx, c.ReferralCode.String(), c.ID)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeSelfReferral))
	})

	s.Run("code of a deactivated referrer is ignored", func() {
		referrer := s.register("Franca", "")
		_, err := s.ledger.DeactivateCustomer(s.ctx, referrer.ID)
		s.Require().NoError(err)

		referred := s.register("Gino", referrer.ReferralCode.String())
		s.Equal(int64(0), s.points(referred.ID))
		s.Nil(referred.ReferredBy)
		_, err = s.referrals.FindPendingByReferred(s.ctx, referred.ID)
		s.Require().Error(err)
	})

	s.Run("a customer can only be referred once", func() {
		first := s.register("Gaia", "")
		second := s.register("Hugo", "")
		referred := s.register("Ivan", first.ReferralCode.String())

		_, err := s.service.RegisterReferral(s.ctx, second.ReferralCode.String(), referred.ID)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})
}

func (s *ReferralSuite) TestSaleCompletesReferral() {
	referrer := s.register("Luca", "")
	referred := s.register("Marta", referrer.ReferralCode.String())

	// First qualifying sale: referred earns sale points, referrer earns the
	// AMICO bonus, the referral flips to completed.
	_, err := s.ledger.Sale(s.ctx, referred.ID, 15)
	s.Require().NoError(err)

	s.Equal(int64(WelcomeBonus+15), s.points(referred.ID))
	s.Equal(int64(20), s.points(referrer.ID))

	done, err := s.referrals.FindByReferred(s.ctx, referred.ID)
	s.Require().NoError(err)
	s.Equal(models.ReferralStatusCompleted, done.Status)
	s.Equal(int64(20), done.PointsAwarded)

	updated, err := s.customers.FindByID(s.ctx, referrer.ID)
	s.Require().NoError(err)
	s.Equal(1, updated.ReferralCount)
	s.Equal(int64(20), updated.ReferralPointsEarned)

	// A second sale finds nothing pending and changes nothing for the referrer.
	_, err = s.ledger.Sale(s.ctx, referred.ID, 50)
	s.Require().NoError(err)
	s.Equal(int64(20), s.points(referrer.ID))
	s.Equal(1, updated.ReferralCount)
}

func (s *ReferralSuite) TestCompleteReferral() {
	s.Run("manual completion then repeat", func() {
		referrer := s.register("Nadia", "")
		referred := s.register("Omar", referrer.ReferralCode.String())

		done, err := s.service.CompleteReferral(s.ctx, referred.ID)
		s.Require().NoError(err)
		s.Equal(int64(20), done.PointsAwarded)

		_, err = s.service.CompleteReferral(s.ctx, referred.ID)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeAlreadyCompleted))
		s.Equal(int64(20), s.points(referrer.ID))
	})

	s.Run("deactivated referrer leaves the referral pending", func() {
		referrer := s.register("Rita", "")
		referred := s.register("Sandro", referrer.ReferralCode.String())

		_, err := s.ledger.DeactivateCustomer(s.ctx, referrer.ID)
		s.Require().NoError(err)

		_, err = s.service.CompleteReferral(s.ctx, referred.ID)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))

		// The row must stay pending so reactivating the referrer lets the
		// completion retry pay out.
		pending, err := s.referrals.FindPendingByReferred(s.ctx, referred.ID)
		s.Require().NoError(err)
		s.Equal(models.ReferralStatusPending, pending.Status)
		s.Equal(int64(0), pending.PointsAwarded)
		s.Equal(int64(0), s.points(referrer.ID))

		_, err = s.ledger.ReactivateCustomer(s.ctx, referrer.ID)
		s.Require().NoError(err)

		done, err := s.service.CompleteReferral(s.ctx, referred.ID)
		s.Require().NoError(err)
		s.Equal(int64(20), done.PointsAwarded)
		s.Equal(int64(20), s.points(referrer.ID))
	})

	s.Run("customer without a referral", func() {
		c := s.register("Paola", "")
		_, err := s.service.CompleteReferral(s.ctx, c.ID)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

// seedCompleted plants n already-completed referrals for the referrer so tier
// tests can start from an arbitrary completed count.
func (s *ReferralSuite) seedCompleted(referrerID id.CustomerID, n int) {
	now := time.Now()
	for i := 0; i < n; i++ {
		other := s.register(fmt.Sprintf("Seed%d", i), "")
		r, err := models.NewReferral(id.NewReferralID(), referrerID, other.ID, now)
		s.Require().NoError(err)
		r.Status = models.ReferralStatusCompleted
		r.PointsAwarded = 20
		r.CompletedAt = &now
		s.Require().NoError(s.referrals.Create(s.ctx, r))
	}
}

func (s *ReferralSuite) TestTierBoundary() {
	s.Run("fifth completion pays at the lower band", func() {
		referrer := s.register("Quinto", "")
		s.seedCompleted(referrer.ID, 4)
		referred := s.register("Rita", referrer.ReferralCode.String())

		done, err := s.service.CompleteReferral(s.ctx, referred.ID)
		s.Require().NoError(err)
		s.Equal(int64(20), done.PointsAwarded)
	})

	s.Run("sixth completion pays at the higher band", func() {
		referrer := s.register("Sesto", "")
		s.seedCompleted(referrer.ID, 5)
		referred := s.register("Tina", referrer.ReferralCode.String())

		done, err := s.service.CompleteReferral(s.ctx, referred.ID)
		s.Require().NoError(err)
		s.Equal(int64(25), done.PointsAwarded)
	})
}

func (s *ReferralSuite) TestPromoWindowDoublesBonus() {
	now := time.Date(2026, 12, 10, 12, 0, 0, 0, time.UTC)
	svc := New(s.customers, s.referrals, s.ledger, WithPromoWindow(models.PromoWindow{
		Start: now.AddDate(0, 0, -1),
		End:   now.AddDate(0, 0, 1),
	}))
	ctx := requestcontext.WithTime(s.ctx, now)

	referrer := s.register("Ugo", "")
	referred := s.register("Vera", referrer.ReferralCode.String())

	done, err := svc.CompleteReferral(ctx, referred.ID)
	s.Require().NoError(err)
	s.Equal(int64(40), done.PointsAwarded)
	s.Equal(int64(40), s.points(referrer.ID))
}

func (s *ReferralSuite) TestOverview() {
	referrer := s.register("Walter", "")
	s.seedCompleted(referrer.ID, 2)
	_ = s.register("Zara", referrer.ReferralCode.String())

	overview, err := s.service.Overview(s.ctx, referrer.ID)
	s.Require().NoError(err)
	s.Equal(2, overview.Completed)
	s.Equal(1, overview.Pending)
	s.Equal(int64(40), overview.PointsEarned)
	s.Equal("AMICO", overview.CurrentTier.Name)
	s.Equal(int64(20), overview.NextReward)
}
