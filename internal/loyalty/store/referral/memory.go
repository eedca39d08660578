package referral

import (
	"context"
	"sort"
	"sync"

	"gemma/internal/loyalty/models"
	id "gemma/pkg/domain"
	"gemma/pkg/platform/sentinel"
)

// InMemory keeps referral rows in maps guarded by a mutex. A referred
// customer can appear in at most one row, matching the unique index the
// postgres store relies on.
type InMemory struct {
	mu         sync.RWMutex
	referrals  map[id.ReferralID]*models.Referral
	byReferred map[id.CustomerID]id.ReferralID
}

func NewInMemory() *InMemory {
	return &InMemory{
		referrals:  make(map[id.ReferralID]*models.Referral),
		byReferred: make(map[id.CustomerID]id.ReferralID),
	}
}

func (s *InMemory) Create(_ context.Context, referral *models.Referral) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.referrals[referral.ID]; exists {
		return sentinel.ErrConflict
	}
	if _, taken := s.byReferred[referral.ReferredID]; taken {
		return sentinel.ErrAlreadyUsed
	}

	copied := *referral
	s.referrals[referral.ID] = &copied
	s.byReferred[referral.ReferredID] = referral.ID
	return nil
}

func (s *InMemory) FindByID(_ context.Context, referralID id.ReferralID) (*models.Referral, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, ok := s.referrals[referralID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	copied := *stored
	return &copied, nil
}

func (s *InMemory) FindPendingByReferred(_ context.Context, referredID id.CustomerID) (*models.Referral, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	referralID, ok := s.byReferred[referredID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	stored := s.referrals[referralID]
	if stored.Status != models.ReferralStatusPending {
		return nil, sentinel.ErrNotFound
	}
	copied := *stored
	return &copied, nil
}

func (s *InMemory) FindByReferred(_ context.Context, referredID id.CustomerID) (*models.Referral, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	referralID, ok := s.byReferred[referredID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	copied := *s.referrals[referralID]
	return &copied, nil
}

func (s *InMemory) Execute(_ context.Context, referralID id.ReferralID, validate func(*models.Referral) error, mutate func(*models.Referral)) (*models.Referral, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.referrals[referralID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}

	working := *stored
	if err := validate(&working); err != nil {
		return nil, err
	}
	mutate(&working)

	s.referrals[referralID] = &working
	result := working
	return &result, nil
}

func (s *InMemory) ListByReferrer(_ context.Context, referrerID id.CustomerID) ([]*models.Referral, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Referral
	for _, r := range s.referrals {
		if r.ReferrerID == referrerID {
			copied := *r
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemory) CountCompletedByReferrer(_ context.Context, referrerID id.CustomerID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, r := range s.referrals {
		if r.ReferrerID == referrerID && r.Status == models.ReferralStatusCompleted {
			count++
		}
	}
	return count, nil
}

func (s *InMemory) SumPointsByReferrer(_ context.Context, referrerID id.CustomerID) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sum int64
	for _, r := range s.referrals {
		if r.ReferrerID == referrerID && r.Status == models.ReferralStatusCompleted {
			sum += r.PointsAwarded
		}
	}
	return sum, nil
}
