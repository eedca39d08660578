// Package accesslog stores the append-only tap access log.
package accesslog

import (
	"context"
	"sync"

	"gemma/internal/identify/models"
	id "gemma/pkg/domain"
)

// InMemory keeps entries in a slice, newest last. Reads reverse the order so
// the API contract (newest first) matches the postgres store.
type InMemory struct {
	mu      sync.RWMutex
	entries []*models.AccessEntry
}

func NewInMemory() *InMemory {
	return &InMemory{}
}

func (s *InMemory) Append(_ context.Context, entry *models.AccessEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *entry
	s.entries = append(s.entries, &clone)
	return nil
}

func (s *InMemory) ListByCustomer(_ context.Context, customerID id.CustomerID, limit int) ([]*models.AccessEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.AccessEntry
	for i := len(s.entries) - 1; i >= 0; i-- {
		if s.entries[i].CustomerID != customerID {
			continue
		}
		clone := *s.entries[i]
		out = append(out, &clone)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
