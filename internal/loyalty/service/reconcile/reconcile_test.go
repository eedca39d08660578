package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"gemma/internal/loyalty/models"
	"gemma/internal/loyalty/store/customer"
	"gemma/internal/loyalty/store/referral"
	id "gemma/pkg/domain"
	dErrors "gemma/pkg/domain-errors"
)

type ReconcileSuite struct {
	suite.Suite
	customers *customer.InMemory
	referrals *referral.InMemory
	service   *Service
	ctx       context.Context
}

func (s *ReconcileSuite) SetupTest() {
	s.customers = customer.NewInMemory()
	s.referrals = referral.NewInMemory()
	s.service = New(s.customers, s.referrals)
	s.ctx = context.Background()
}

func TestReconcileSuite(t *testing.T) {
	suite.Run(t, new(ReconcileSuite))
}

func (s *ReconcileSuite) seedCustomer(count int, points int64) *models.Customer {
	now := time.Now()
	c := &models.Customer{
		ID:                   id.NewCustomerID(),
		Name:                 "Mario Rossi",
		Phone:                "+39333" + uuid.NewString()[:8],
		ReferralCode:         id.GenerateReferralCode("Mario"),
		Status:               models.CustomerStatusActive,
		ReferralCount:        count,
		ReferralPointsEarned: points,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	s.Require().NoError(s.customers.Create(s.ctx, c))
	return c
}

func (s *ReconcileSuite) seedCompleted(referrerID id.CustomerID, n int, points int64) {
	now := time.Now()
	for i := 0; i < n; i++ {
		r, err := models.NewReferral(id.NewReferralID(), referrerID, id.NewCustomerID(), now)
		s.Require().NoError(err)
		r.Status = models.ReferralStatusCompleted
		r.PointsAwarded = points
		r.CompletedAt = &now
		s.Require().NoError(s.referrals.Create(s.ctx, r))
	}
}

func (s *ReconcileSuite) TestReconcile() {
	s.Run("drifted count is repaired", func() {
		c := s.seedCustomer(7, 140)
		s.seedCompleted(c.ID, 3, 20)

		report, err := s.service.Reconcile(s.ctx, c.ID)
		s.Require().NoError(err)
		s.True(report.Repaired)
		s.Equal(7, report.StoredCount)
		s.Equal(3, report.ExpectedCount)
		s.Equal(int64(140), report.StoredPoints)
		s.Equal(int64(60), report.ExpectedPoints)

		fixed, err := s.customers.FindByID(s.ctx, c.ID)
		s.Require().NoError(err)
		s.Equal(3, fixed.ReferralCount)
		s.Equal(int64(60), fixed.ReferralPointsEarned)
	})

	s.Run("consistent caches are left alone", func() {
		c := s.seedCustomer(2, 40)
		s.seedCompleted(c.ID, 2, 20)

		before, err := s.customers.FindByID(s.ctx, c.ID)
		s.Require().NoError(err)

		report, err := s.service.Reconcile(s.ctx, c.ID)
		s.Require().NoError(err)
		s.False(report.Repaired)

		after, err := s.customers.FindByID(s.ctx, c.ID)
		s.Require().NoError(err)
		s.Equal(before.UpdatedAt, after.UpdatedAt)
	})

	s.Run("points drift alone triggers repair", func() {
		c := s.seedCustomer(1, 999)
		s.seedCompleted(c.ID, 1, 25)

		report, err := s.service.Reconcile(s.ctx, c.ID)
		s.Require().NoError(err)
		s.True(report.Repaired)
		s.Equal(1, report.ExpectedCount)
		s.Equal(int64(25), report.ExpectedPoints)
	})

	s.Run("pending referrals do not count", func() {
		c := s.seedCustomer(0, 0)
		r, err := models.NewReferral(id.NewReferralID(), c.ID, id.NewCustomerID(), time.Now())
		s.Require().NoError(err)
		s.Require().NoError(s.referrals.Create(s.ctx, r))

		report, err := s.service.Reconcile(s.ctx, c.ID)
		s.Require().NoError(err)
		s.False(report.Repaired)
		s.Equal(0, report.ExpectedCount)
	})

	s.Run("unknown customer", func() {
		_, err := s.service.Reconcile(s.ctx, id.NewCustomerID())
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *ReconcileSuite) TestReconcileAll() {
	drifted := s.seedCustomer(5, 100)
	s.seedCompleted(drifted.ID, 1, 20)

	consistent := s.seedCustomer(1, 20)
	s.seedCompleted(consistent.ID, 1, 20)

	for i := 0; i < 3; i++ {
		s.seedCustomer(0, 0)
	}

	reports, err := s.service.ReconcileAll(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(reports, 1)
	s.Equal(drifted.ID, reports[0].CustomerID)
	s.Equal(1, reports[0].ExpectedCount)
}

func (s *ReconcileSuite) TestReconcileAllStopsOnCancel() {
	for i := 0; i < 5; i++ {
		s.seedCustomer(i+1, 0)
	}

	ctx, cancel := context.WithCancel(s.ctx)
	cancel()

	_, err := s.service.ReconcileAll(ctx)
	s.Require().ErrorIs(err, context.Canceled)
}
