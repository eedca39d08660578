package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"gemma/internal/identify/models"
	"gemma/internal/identify/store/accesslog"
	"gemma/internal/identify/store/tag"
	loyalty "gemma/internal/loyalty/models"
	"gemma/internal/loyalty/store/customer"
	id "gemma/pkg/domain"
	dErrors "gemma/pkg/domain-errors"
	"gemma/pkg/requestcontext"
)

// scriptedWindow is a debounce window with predetermined answers.
type scriptedWindow struct {
	answers []bool
	calls   int
}

func (w *scriptedWindow) Observe(context.Context, string) (bool, error) {
	if w.calls >= len(w.answers) {
		return true, nil
	}
	first := w.answers[w.calls]
	w.calls++
	return first, nil
}

type ResolverSuite struct {
	suite.Suite
	tags      *tag.InMemory
	accessLog *accesslog.InMemory
	customers *customer.InMemory
	window    *scriptedWindow
	service   *Service
	ctx       context.Context
}

func (s *ResolverSuite) SetupTest() {
	s.tags = tag.NewInMemory()
	s.accessLog = accesslog.NewInMemory()
	s.customers = customer.NewInMemory()
	s.window = &scriptedWindow{}
	s.service = New(s.tags, s.accessLog, s.customers,
		WithDebounceWindow(s.window))
	s.ctx = context.Background()
}

func TestResolverSuite(t *testing.T) {
	suite.Run(t, new(ResolverSuite))
}

func (s *ResolverSuite) seedCustomer(name string, active bool) *loyalty.Customer {
	now := time.Now()
	status := loyalty.CustomerStatusActive
	if !active {
		status = loyalty.CustomerStatusInactive
	}
	c := &loyalty.Customer{
		ID:           id.NewCustomerID(),
		Name:         name,
		Phone:        "+39333" + uuid.NewString()[:8],
		ReferralCode: id.GenerateReferralCode(name),
		Status:       status,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.Require().NoError(s.customers.Create(s.ctx, c))
	return c
}

func (s *ResolverSuite) seedTag(uid string, customerID id.CustomerID, active bool) {
	s.Require().NoError(s.tags.Register(s.ctx, &models.Tag{
		UID:        uid,
		CustomerID: customerID,
		Active:     active,
		CreatedAt:  time.Now(),
	}))
}

func (s *ResolverSuite) TestResolveTag() {
	s.Run("resolves and logs the tap", func() {
		c := s.seedCustomer("Mario", true)
		s.seedTag("04a3b2c1", c.ID, true)

		ctx := requestcontext.WithTerminalID(s.ctx, "till-2")
		res, err := s.service.ResolveTag(ctx, "04:A3:B2:C1")
		s.Require().NoError(err)
		s.Equal(models.ChannelTag, res.Channel)
		s.Equal(c.ID, res.Customer.ID)
		s.Equal("04a3b2c1", res.TagUID)
		s.False(res.ReadOnly)

		entries, err := s.accessLog.ListByCustomer(s.ctx, c.ID, 0)
		s.Require().NoError(err)
		s.Require().Len(entries, 1)
		s.Equal("04a3b2c1", entries[0].TagUID)
		s.Equal(id.TerminalID("till-2"), entries[0].TerminalID)
		s.Equal(models.OutcomeResolved, entries[0].Outcome)
	})

	s.Run("unregistered tag writes no access-log entry", func() {
		c := s.seedCustomer("Anna", true)

		_, err := s.service.ResolveTag(s.ctx, "09F1E2D3")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeTagNotRegistered))

		entries, err := s.accessLog.ListByCustomer(s.ctx, c.ID, 0)
		s.Require().NoError(err)
		s.Empty(entries)
	})

	s.Run("inactive tag is indistinguishable from unregistered", func() {
		c := s.seedCustomer("Bruno", true)
		s.seedTag("deadbeef", c.ID, false)

		_, err := s.service.ResolveTag(s.ctx, "DE:AD:BE:EF")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeTagNotRegistered))
	})

	s.Run("inactive customer resolves read only", func() {
		c := s.seedCustomer("Carla", false)
		s.seedTag("aa11bb22", c.ID, true)

		res, err := s.service.ResolveTag(s.ctx, "aa11bb22")
		s.Require().NoError(err)
		s.True(res.ReadOnly)

		entries, err := s.accessLog.ListByCustomer(s.ctx, c.ID, 0)
		s.Require().NoError(err)
		s.Require().Len(entries, 1)
		s.Equal(models.OutcomeReadOnly, entries[0].Outcome)
	})

	s.Run("repeat read inside the window logs once", func() {
		c := s.seedCustomer("Dario", true)
		s.seedTag("cafe0001", c.ID, true)
		s.window.answers = []bool{true, false, false}

		for i := 0; i < 3; i++ {
			res, err := s.service.ResolveTag(s.ctx, "cafe0001")
			s.Require().NoError(err)
			s.Equal(c.ID, res.Customer.ID)
		}

		entries, err := s.accessLog.ListByCustomer(s.ctx, c.ID, 0)
		s.Require().NoError(err)
		s.Len(entries, 1)
	})

	s.Run("empty uid is an invalid payload", func() {
		_, err := s.service.ResolveTag(s.ctx, " : - ")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidPayload))
	})
}

func (s *ResolverSuite) TestResolveCode() {
	s.Run("strict pattern resolves", func() {
		c := s.seedCustomer("Elena", true)

		res, err := s.service.ResolveCode(s.ctx, "CUSTOMER:"+c.ID.String())
		s.Require().NoError(err)
		s.Equal(models.ChannelCode, res.Channel)
		s.Equal(c.ID, res.Customer.ID)

		// The code channel never touches the access log.
		entries, err := s.accessLog.ListByCustomer(s.ctx, c.ID, 0)
		s.Require().NoError(err)
		s.Empty(entries)
	})

	s.Run("anything else is an invalid payload", func() {
		for _, decoded := range []string{
			"https://example.com/promo",
			"CUSTOMER:",
			"CUSTOMER:not-a-uuid",
			"customer:" + uuid.NewString(),
		} {
			_, err := s.service.ResolveCode(s.ctx, decoded)
			s.Require().Error(err, decoded)
			s.True(dErrors.HasCode(err, dErrors.CodeInvalidPayload), decoded)
		}
	})

	s.Run("unknown customer", func() {
		_, err := s.service.ResolveCode(s.ctx, "CUSTOMER:"+uuid.NewString())
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *ResolverSuite) TestSearch() {
	s.seedCustomer("Mario Rossi", true)
	s.seedCustomer("Maria Verdi", true)
	s.seedCustomer("Luigi Bianchi", true)

	s.Run("ranked candidates", func() {
		results, err := s.service.Search(s.ctx, "mari", 10)
		s.Require().NoError(err)
		s.Require().Len(results, 2)
	})

	s.Run("empty query rejected", func() {
		_, err := s.service.Search(s.ctx, "   ", 10)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	s.Run("limit is capped", func() {
		svc := New(s.tags, s.accessLog, s.customers, WithSearchLimit(1))
		results, err := svc.Search(s.ctx, "i", 100)
		s.Require().NoError(err)
		s.Len(results, 1)
	})
}
