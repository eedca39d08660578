package customer

import (
	"context"
	"sort"
	"strings"
	"sync"

	"gemma/internal/loyalty/models"
	id "gemma/pkg/domain"
	"gemma/pkg/platform/sentinel"
)

// InMemory keeps customers in a map guarded by a mutex. Execute holds the
// write lock across validate and mutate so concurrent balance updates
// serialize the same way the postgres store does with row locks.
type InMemory struct {
	mu        sync.RWMutex
	customers map[id.CustomerID]*models.Customer
	byCode    map[id.ReferralCode]id.CustomerID
	byPhone   map[string]id.CustomerID
}

func NewInMemory() *InMemory {
	return &InMemory{
		customers: make(map[id.CustomerID]*models.Customer),
		byCode:    make(map[id.ReferralCode]id.CustomerID),
		byPhone:   make(map[string]id.CustomerID),
	}
}

func (s *InMemory) Create(_ context.Context, customer *models.Customer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.customers[customer.ID]; exists {
		return sentinel.ErrConflict
	}
	if _, taken := s.byPhone[customer.Phone]; taken {
		return sentinel.ErrAlreadyUsed
	}
	if _, taken := s.byCode[customer.ReferralCode]; taken {
		return sentinel.ErrAlreadyUsed
	}

	copied := *customer
	s.customers[customer.ID] = &copied
	s.byCode[customer.ReferralCode] = customer.ID
	s.byPhone[customer.Phone] = customer.ID
	return nil
}

func (s *InMemory) FindByID(_ context.Context, customerID id.CustomerID) (*models.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.find(customerID)
}

func (s *InMemory) FindByReferralCode(_ context.Context, code id.ReferralCode) (*models.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customerID, ok := s.byCode[code]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return s.find(customerID)
}

func (s *InMemory) Execute(_ context.Context, customerID id.CustomerID, validate func(*models.Customer) error, mutate func(*models.Customer)) (*models.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.customers[customerID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}

	working := *stored
	if err := validate(&working); err != nil {
		return nil, err
	}
	mutate(&working)

	s.customers[customerID] = &working
	result := working
	return &result, nil
}

func (s *InMemory) Search(_ context.Context, query string, limit int) ([]*models.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	needle := strings.ToLower(strings.TrimSpace(query))
	if needle == "" {
		return nil, nil
	}

	type ranked struct {
		customer *models.Customer
		rank     int
	}
	var matches []ranked
	for _, c := range s.customers {
		rank, ok := matchRank(c, needle)
		if !ok {
			continue
		}
		copied := *c
		matches = append(matches, ranked{customer: &copied, rank: rank})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].rank != matches[j].rank {
			return matches[i].rank < matches[j].rank
		}
		return matches[i].customer.Name < matches[j].customer.Name
	})

	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	out := make([]*models.Customer, len(matches))
	for i, m := range matches {
		out[i] = m.customer
	}
	return out, nil
}

func (s *InMemory) List(_ context.Context) ([]*models.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.Customer, 0, len(s.customers))
	for _, c := range s.customers {
		copied := *c
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemory) find(customerID id.CustomerID) (*models.Customer, error) {
	stored, ok := s.customers[customerID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	copied := *stored
	return &copied, nil
}

// matchRank ranks prefix matches ahead of substring matches across name,
// phone and email.
func matchRank(c *models.Customer, needle string) (int, bool) {
	fields := []string{strings.ToLower(c.Name), c.Phone, strings.ToLower(c.Email)}
	rank := -1
	for _, f := range fields {
		if f == "" {
			continue
		}
		if strings.HasPrefix(f, needle) {
			return 0, true
		}
		if strings.Contains(f, needle) {
			rank = 1
		}
	}
	return rank, rank >= 0
}
