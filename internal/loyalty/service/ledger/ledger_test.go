package ledger

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"gemma/internal/loyalty/models"
	"gemma/internal/loyalty/ports/mocks"
	"gemma/internal/loyalty/store/customer"
	"gemma/internal/loyalty/store/transaction"
	id "gemma/pkg/domain"
	dErrors "gemma/pkg/domain-errors"
	"gemma/pkg/platform/sentinel"
)

type LedgerSuite struct {
	suite.Suite
	customers    *customer.InMemory
	transactions *transaction.InMemory
	service      *Service
	ctx          context.Context
}

func (s *LedgerSuite) SetupTest() {
	s.customers = customer.NewInMemory()
	s.transactions = transaction.NewInMemory()
	s.service = New(s.customers, s.transactions, WithPointsPerEuro(1))
	s.ctx = context.Background()
}

func TestLedgerSuite(t *testing.T) {
	suite.Run(t, new(LedgerSuite))
}

func (s *LedgerSuite) seedCustomer(points int64) *models.Customer {
	now := time.Now()
	c := &models.Customer{
		ID:           id.CustomerID(uuid.New()),
		Name:         "Mario Rossi",
		Phone:        "+39333" + uuid.NewString()[:8],
		ReferralCode: id.ReferralCode("MARIO-" + strings.ToUpper(uuid.NewString()[9:13])),
		Points:       points,
		Status:       models.CustomerStatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.Require().NoError(s.customers.Create(s.ctx, c))
	return c
}

func (s *LedgerSuite) TestApplyDelta() {
	s.Run("credits and records both balances", func() {
		c := s.seedCustomer(0)

		row, err := s.service.ApplyDelta(s.ctx, DeltaRequest{
			CustomerID: c.ID, Delta: 30, Reason: models.ReasonManualCredit,
		})
		s.Require().NoError(err)
		s.Equal(int64(0), row.PreviousBalance)
		s.Equal(int64(30), row.NewBalance)

		found, err := s.customers.FindByID(s.ctx, c.ID)
		s.Require().NoError(err)
		s.Equal(int64(30), found.Points)
	})

	s.Run("deduction clamps at zero and keeps the gap visible", func() {
		c := s.seedCustomer(10)

		row, err := s.service.ApplyDelta(s.ctx, DeltaRequest{
			CustomerID: c.ID, Delta: -25, Reason: models.ReasonManualDebit,
		})
		s.Require().NoError(err)
		s.Equal(int64(10), row.PreviousBalance)
		s.Equal(int64(0), row.NewBalance)
		s.Equal(int64(-25), row.Delta)
		s.Equal(int64(-10), row.Applied())
	})

	s.Run("inactive customer is rejected before any write", func() {
		c := s.seedCustomer(50)
		_, err := s.service.DeactivateCustomer(s.ctx, c.ID)
		s.Require().NoError(err)

		_, err = s.service.ApplyDelta(s.ctx, DeltaRequest{
			CustomerID: c.ID, Delta: 5, Reason: models.ReasonManualCredit,
		})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))

		rows, err := s.transactions.ListByCustomer(s.ctx, c.ID, 0)
		s.Require().NoError(err)
		s.Empty(rows)
	})

	s.Run("unknown customer reports not found", func() {
		_, err := s.service.ApplyDelta(s.ctx, DeltaRequest{
			CustomerID: id.CustomerID(uuid.New()), Delta: 5, Reason: models.ReasonManualCredit,
		})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("zero delta is invalid outside sales", func() {
		c := s.seedCustomer(0)
		_, err := s.service.ApplyDelta(s.ctx, DeltaRequest{
			CustomerID: c.ID, Delta: 0, Reason: models.ReasonManualCredit,
		})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	s.Run("unknown reason is invalid", func() {
		c := s.seedCustomer(0)
		_, err := s.service.ApplyDelta(s.ctx, DeltaRequest{
			CustomerID: c.ID, Delta: 5, Reason: models.Reason("gift"),
		})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
}

func (s *LedgerSuite) TestSale() {
	s.Run("converts with floor", func() {
		c := s.seedCustomer(0)

		row, err := s.service.Sale(s.ctx, c.ID, 12.80)
		s.Require().NoError(err)
		s.Equal(int64(12), row.Delta)
		s.Equal(models.ReasonSale, row.Reason)
	})

	s.Run("rejects non-positive amounts", func() {
		c := s.seedCustomer(0)
		_, err := s.service.Sale(s.ctx, c.ID, 0)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	s.Run("qualifying sale fires the hook once per sale", func() {
		c := s.seedCustomer(0)
		var hookCalls []id.CustomerID
		s.service.SetSaleHook(func(_ context.Context, customerID id.CustomerID) {
			hookCalls = append(hookCalls, customerID)
		})

		_, err := s.service.Sale(s.ctx, c.ID, 10)
		s.Require().NoError(err)
		s.Equal([]id.CustomerID{c.ID}, hookCalls)
	})

	s.Run("sale flooring to zero does not fire the hook", func() {
		c := s.seedCustomer(0)
		fired := false
		s.service.SetSaleHook(func(context.Context, id.CustomerID) { fired = true })

		row, err := s.service.Sale(s.ctx, c.ID, 0.80)
		s.Require().NoError(err)
		s.Equal(int64(0), row.Delta)
		s.False(fired)
	})

	s.Run("manual credit does not fire the hook", func() {
		c := s.seedCustomer(0)
		fired := false
		s.service.SetSaleHook(func(context.Context, id.CustomerID) { fired = true })

		_, err := s.service.ApplyDelta(s.ctx, DeltaRequest{
			CustomerID: c.ID, Delta: 100, Reason: models.ReasonManualCredit,
		})
		s.Require().NoError(err)
		s.False(fired)
	})
}

func (s *LedgerSuite) TestSaleConversionRate() {
	svc := New(s.customers, s.transactions, WithPointsPerEuro(2))
	c := s.seedCustomer(0)

	row, err := svc.Sale(s.ctx, c.ID, 7.30)
	s.Require().NoError(err)
	s.Equal(int64(14), row.Delta)
}

func (s *LedgerSuite) TestRedeem() {
	prizes := models.PrizeTable{{Name: "Caffè omaggio", Cost: 30}}
	svc := New(s.customers, s.transactions, WithPrizes(prizes))

	s.Run("deducts the prize cost", func() {
		c := s.seedCustomer(100)

		row, err := svc.Redeem(s.ctx, c.ID, "Caffè omaggio")
		s.Require().NoError(err)
		s.Equal(int64(-30), row.Delta)
		s.Equal(models.ReasonPrizeRedemption, row.Reason)
		s.Equal(int64(70), row.NewBalance)
	})

	s.Run("clamps like any other deduction", func() {
		c := s.seedCustomer(10)

		row, err := svc.Redeem(s.ctx, c.ID, "caffè omaggio")
		s.Require().NoError(err)
		s.Equal(int64(0), row.NewBalance)
	})

	s.Run("unknown prize reports not found", func() {
		c := s.seedCustomer(100)
		_, err := svc.Redeem(s.ctx, c.ID, "Yacht")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *LedgerSuite) TestHistory() {
	c := s.seedCustomer(0)

	for i := 0; i < 3; i++ {
		_, err := s.service.ApplyDelta(s.ctx, DeltaRequest{
			CustomerID: c.ID, Delta: int64(i + 1), Reason: models.ReasonManualCredit,
		})
		s.Require().NoError(err)
	}

	rows, err := s.service.History(s.ctx, c.ID, 2)
	s.Require().NoError(err)
	s.Len(rows, 2)

	_, err = s.service.History(s.ctx, id.CustomerID(uuid.New()), 0)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *LedgerSuite) TestLifecycle() {
	s.Run("deactivate then reactivate", func() {
		c := s.seedCustomer(0)

		deactivated, err := s.service.DeactivateCustomer(s.ctx, c.ID)
		s.Require().NoError(err)
		s.Equal(models.CustomerStatusInactive, deactivated.Status)

		// Double deactivation is a conflict, not an invariant leak.
		_, err = s.service.DeactivateCustomer(s.ctx, c.ID)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))

		reactivated, err := s.service.ReactivateCustomer(s.ctx, c.ID)
		s.Require().NoError(err)
		s.Equal(models.CustomerStatusActive, reactivated.Status)
	})

	s.Run("inactive customer still resolves for display", func() {
		c := s.seedCustomer(42)
		_, err := s.service.DeactivateCustomer(s.ctx, c.ID)
		s.Require().NoError(err)

		found, err := s.service.GetCustomer(s.ctx, c.ID)
		s.Require().NoError(err)
		s.Equal(int64(42), found.Points)
	})
}

// TestConflictRetry exercises the bounded retry loop with a store that
// conflicts before yielding.
func TestConflictRetry(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	customerID := id.CustomerID(uuid.New())

	t.Run("retries through transient conflicts", func(t *testing.T) {
		customers := mocks.NewMockCustomerStore(ctrl)
		transactions := mocks.NewMockTransactionStore(ctrl)
		svc := New(customers, transactions)

		gomock.InOrder(
			customers.EXPECT().Execute(gomock.Any(), customerID, gomock.Any(), gomock.Any()).
				Return(nil, sentinel.ErrConflict),
			customers.EXPECT().Execute(gomock.Any(), customerID, gomock.Any(), gomock.Any()).
				DoAndReturn(func(_ context.Context, _ id.CustomerID, validate func(*models.Customer) error, mutate func(*models.Customer)) (*models.Customer, error) {
					c := &models.Customer{ID: customerID, Status: models.CustomerStatusActive}
					if err := validate(c); err != nil {
						return nil, err
					}
					mutate(c)
					return c, nil
				}),
		)
		transactions.EXPECT().Append(gomock.Any(), gomock.Any()).Return(nil)

		row, err := svc.ApplyDelta(context.Background(), DeltaRequest{
			CustomerID: customerID, Delta: 5, Reason: models.ReasonManualCredit,
		})
		if err != nil {
			t.Fatalf("expected retry to succeed, got %v", err)
		}
		if row.NewBalance != 5 {
			t.Fatalf("expected balance 5, got %d", row.NewBalance)
		}
	})

	t.Run("persistent conflict surfaces CodeConflict", func(t *testing.T) {
		customers := mocks.NewMockCustomerStore(ctrl)
		transactions := mocks.NewMockTransactionStore(ctrl)
		svc := New(customers, transactions)

		customers.EXPECT().Execute(gomock.Any(), customerID, gomock.Any(), gomock.Any()).
			Return(nil, sentinel.ErrConflict).Times(3)

		_, err := svc.ApplyDelta(context.Background(), DeltaRequest{
			CustomerID: customerID, Delta: 5, Reason: models.ReasonManualCredit,
		})
		if err == nil || !dErrors.HasCode(err, dErrors.CodeConflict) {
			t.Fatalf("expected CodeConflict, got %v", err)
		}
	})
}
