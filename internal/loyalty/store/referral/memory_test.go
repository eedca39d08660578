package referral

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"gemma/internal/loyalty/models"
	id "gemma/pkg/domain"
	dErrors "gemma/pkg/domain-errors"
	"gemma/pkg/platform/sentinel"
)

type ReferralStoreSuite struct {
	suite.Suite
	store *InMemory
	ctx   context.Context
}

func (s *ReferralStoreSuite) SetupTest() {
	s.store = NewInMemory()
	s.ctx = context.Background()
}

func TestReferralStoreSuite(t *testing.T) {
	suite.Run(t, new(ReferralStoreSuite))
}

func (s *ReferralStoreSuite) newReferral(referrerID id.CustomerID) *models.Referral {
	referral, err := models.NewReferral(
		id.ReferralID(uuid.New()),
		referrerID,
		id.CustomerID(uuid.New()),
		time.Now(),
	)
	s.Require().NoError(err)
	return referral
}

func (s *ReferralStoreSuite) TestCreateAndLookups() {
	referrerID := id.CustomerID(uuid.New())

	s.Run("creates and finds by ID", func() {
		r := s.newReferral(referrerID)
		s.Require().NoError(s.store.Create(s.ctx, r))

		found, err := s.store.FindByID(s.ctx, r.ID)
		s.Require().NoError(err)
		s.Equal(r.ReferredID, found.ReferredID)
	})

	s.Run("finds pending by referred customer", func() {
		r := s.newReferral(referrerID)
		s.Require().NoError(s.store.Create(s.ctx, r))

		found, err := s.store.FindPendingByReferred(s.ctx, r.ReferredID)
		s.Require().NoError(err)
		s.Equal(r.ID, found.ID)
	})

	s.Run("rejects a second referral for the same referred customer", func() {
		r := s.newReferral(referrerID)
		s.Require().NoError(s.store.Create(s.ctx, r))

		other := s.newReferral(id.CustomerID(uuid.New()))
		other.ReferredID = r.ReferredID
		s.Require().ErrorIs(s.store.Create(s.ctx, other), sentinel.ErrAlreadyUsed)
	})

	s.Run("returns ErrNotFound for unknown referral", func() {
		_, err := s.store.FindByID(s.ctx, id.ReferralID(uuid.New()))
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *ReferralStoreSuite) TestCompletion() {
	referrerID := id.CustomerID(uuid.New())

	s.Run("completes a pending referral", func() {
		r := s.newReferral(referrerID)
		s.Require().NoError(s.store.Create(s.ctx, r))

		completed, err := s.store.Execute(s.ctx, r.ID,
			func(r *models.Referral) error { return r.CanComplete() },
			func(r *models.Referral) { r.ApplyCompletion(20, time.Now()) },
		)
		s.Require().NoError(err)
		s.Equal(models.ReferralStatusCompleted, completed.Status)
		s.Equal(int64(20), completed.PointsAwarded)

		// No longer pending.
		_, err = s.store.FindPendingByReferred(s.ctx, r.ReferredID)
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("second completion reports already completed", func() {
		r := s.newReferral(referrerID)
		s.Require().NoError(s.store.Create(s.ctx, r))

		_, err := s.store.Execute(s.ctx, r.ID,
			func(r *models.Referral) error { return r.CanComplete() },
			func(r *models.Referral) { r.ApplyCompletion(20, time.Now()) },
		)
		s.Require().NoError(err)

		_, err = s.store.Execute(s.ctx, r.ID,
			func(r *models.Referral) error { return r.CanComplete() },
			func(r *models.Referral) { r.ApplyCompletion(20, time.Now()) },
		)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeAlreadyCompleted))
	})
}

// TestConcurrentCompletion verifies that racing completions award points
// exactly once.
func (s *ReferralStoreSuite) TestConcurrentCompletion() {
	referrerID := id.CustomerID(uuid.New())
	r := s.newReferral(referrerID)
	s.Require().NoError(s.store.Create(s.ctx, r))

	const goroutines = 20
	var wg sync.WaitGroup
	var successes, alreadyDone int
	var mu sync.Mutex

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.store.Execute(s.ctx, r.ID,
				func(r *models.Referral) error { return r.CanComplete() },
				func(r *models.Referral) { r.ApplyCompletion(20, time.Now()) },
			)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case dErrors.HasCode(err, dErrors.CodeAlreadyCompleted):
				alreadyDone++
			}
		}()
	}
	wg.Wait()

	s.Equal(1, successes, "exactly one completion should win")
	s.Equal(goroutines-1, alreadyDone)

	sum, err := s.store.SumPointsByReferrer(s.ctx, referrerID)
	s.Require().NoError(err)
	s.Equal(int64(20), sum, "points awarded exactly once")
}

func (s *ReferralStoreSuite) TestCountsAndSums() {
	referrerID := id.CustomerID(uuid.New())

	for i := 0; i < 3; i++ {
		r := s.newReferral(referrerID)
		s.Require().NoError(s.store.Create(s.ctx, r))
		if i < 2 {
			_, err := s.store.Execute(s.ctx, r.ID,
				func(r *models.Referral) error { return r.CanComplete() },
				func(r *models.Referral) { r.ApplyCompletion(25, time.Now()) },
			)
			s.Require().NoError(err)
		}
	}

	count, err := s.store.CountCompletedByReferrer(s.ctx, referrerID)
	s.Require().NoError(err)
	s.Equal(2, count, "pending referrals do not count")

	sum, err := s.store.SumPointsByReferrer(s.ctx, referrerID)
	s.Require().NoError(err)
	s.Equal(int64(50), sum)

	all, err := s.store.ListByReferrer(s.ctx, referrerID)
	s.Require().NoError(err)
	s.Len(all, 3)
}
