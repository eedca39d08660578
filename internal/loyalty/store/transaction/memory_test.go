package transaction

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"gemma/internal/loyalty/models"
	id "gemma/pkg/domain"
	"gemma/pkg/platform/sentinel"
)

type TransactionStoreSuite struct {
	suite.Suite
	store *InMemory
	ctx   context.Context
}

func (s *TransactionStoreSuite) SetupTest() {
	s.store = NewInMemory()
	s.ctx = context.Background()
}

func TestTransactionStoreSuite(t *testing.T) {
	suite.Run(t, new(TransactionStoreSuite))
}

func newRow(customerID id.CustomerID, delta int64, reason models.Reason, at time.Time) *models.Transaction {
	return &models.Transaction{
		ID:              id.TransactionID(uuid.New()),
		CustomerID:      customerID,
		Delta:           delta,
		PreviousBalance: 0,
		NewBalance:      max(delta, 0),
		Reason:          reason,
		CreatedAt:       at,
	}
}

func (s *TransactionStoreSuite) TestAppendAndList() {
	customerID := id.CustomerID(uuid.New())
	now := time.Now()

	first := newRow(customerID, 10, models.ReasonSale, now)
	second := newRow(customerID, 5, models.ReasonManualCredit, now.Add(time.Minute))
	s.Require().NoError(s.store.Append(s.ctx, first))
	s.Require().NoError(s.store.Append(s.ctx, second))

	s.Run("lists newest first", func() {
		rows, err := s.store.ListByCustomer(s.ctx, customerID, 0)
		s.Require().NoError(err)
		s.Require().Len(rows, 2)
		s.Equal(second.ID, rows[0].ID)
		s.Equal(first.ID, rows[1].ID)
	})

	s.Run("respects limit", func() {
		rows, err := s.store.ListByCustomer(s.ctx, customerID, 1)
		s.Require().NoError(err)
		s.Require().Len(rows, 1)
		s.Equal(second.ID, rows[0].ID)
	})

	s.Run("rejects duplicate IDs", func() {
		dup := *first
		err := s.store.Append(s.ctx, &dup)
		s.Require().ErrorIs(err, sentinel.ErrConflict)
	})

	s.Run("unknown customer lists empty", func() {
		rows, err := s.store.ListByCustomer(s.ctx, id.CustomerID(uuid.New()), 0)
		s.Require().NoError(err)
		s.Empty(rows)
	})
}

func (s *TransactionStoreSuite) TestHasQualifyingSale() {
	customerID := id.CustomerID(uuid.New())
	now := time.Now()

	s.Run("false with no rows", func() {
		ok, err := s.store.HasQualifyingSale(s.ctx, customerID)
		s.Require().NoError(err)
		s.False(ok)
	})

	s.Run("false with only non-sale rows", func() {
		s.Require().NoError(s.store.Append(s.ctx, newRow(customerID, 10, models.ReasonReferralWelcome, now)))
		ok, err := s.store.HasQualifyingSale(s.ctx, customerID)
		s.Require().NoError(err)
		s.False(ok)
	})

	s.Run("true once a positive sale lands", func() {
		s.Require().NoError(s.store.Append(s.ctx, newRow(customerID, 7, models.ReasonSale, now.Add(time.Second))))
		ok, err := s.store.HasQualifyingSale(s.ctx, customerID)
		s.Require().NoError(err)
		s.True(ok)
	})
}
