// Package tag stores the registry of provisioned physical credentials.
package tag

import (
	"context"
	"sync"

	"gemma/internal/identify/models"
	id "gemma/pkg/domain"
	"gemma/pkg/platform/sentinel"
)

// InMemory is a map-backed tag registry for tests and broker-less deployments.
type InMemory struct {
	mu   sync.RWMutex
	tags map[string]*models.Tag
}

func NewInMemory() *InMemory {
	return &InMemory{tags: make(map[string]*models.Tag)}
}

func (s *InMemory) Register(_ context.Context, tag *models.Tag) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tags[tag.UID]; exists {
		return sentinel.ErrAlreadyUsed
	}
	clone := *tag
	s.tags[tag.UID] = &clone
	return nil
}

func (s *InMemory) FindByUID(_ context.Context, uid string) (*models.Tag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tag, ok := s.tags[uid]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	clone := *tag
	return &clone, nil
}

func (s *InMemory) SetActive(_ context.Context, uid string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tag, ok := s.tags[uid]
	if !ok {
		return sentinel.ErrNotFound
	}
	tag.Active = active
	return nil
}

func (s *InMemory) ListByCustomer(_ context.Context, customerID id.CustomerID) ([]*models.Tag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Tag
	for _, tag := range s.tags {
		if tag.CustomerID == customerID {
			clone := *tag
			out = append(out, &clone)
		}
	}
	return out, nil
}
