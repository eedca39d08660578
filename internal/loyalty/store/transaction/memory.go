package transaction

import (
	"context"
	"sort"
	"sync"

	"gemma/internal/loyalty/models"
	id "gemma/pkg/domain"
	"gemma/pkg/platform/sentinel"
)

// InMemory keeps ledger rows in an append-only slice per customer.
type InMemory struct {
	mu   sync.RWMutex
	rows map[id.CustomerID][]*models.Transaction
	ids  map[id.TransactionID]struct{}
}

func NewInMemory() *InMemory {
	return &InMemory{
		rows: make(map[id.CustomerID][]*models.Transaction),
		ids:  make(map[id.TransactionID]struct{}),
	}
}

func (s *InMemory) Append(_ context.Context, tx *models.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.ids[tx.ID]; exists {
		return sentinel.ErrConflict
	}
	copied := *tx
	s.rows[tx.CustomerID] = append(s.rows[tx.CustomerID], &copied)
	s.ids[tx.ID] = struct{}{}
	return nil
}

func (s *InMemory) ListByCustomer(_ context.Context, customerID id.CustomerID, limit int) ([]*models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored := s.rows[customerID]
	out := make([]*models.Transaction, len(stored))
	for i, tx := range stored {
		copied := *tx
		out[i] = &copied
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemory) HasQualifyingSale(_ context.Context, customerID id.CustomerID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, tx := range s.rows[customerID] {
		if tx.IsQualifyingSale() {
			return true, nil
		}
	}
	return false, nil
}
