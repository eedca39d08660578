// Package store persists operator accounts.
package store

import (
	"context"
	"strings"
	"sync"

	"gemma/internal/operator/models"
	id "gemma/pkg/domain"
	"gemma/pkg/platform/sentinel"
)

// InMemory keeps operators in a map guarded by a mutex. Usernames are
// unique case-insensitively, matching the postgres index on lower(username).
type InMemory struct {
	mu         sync.RWMutex
	operators  map[id.OperatorID]*models.Operator
	byUsername map[string]id.OperatorID
}

func NewInMemory() *InMemory {
	return &InMemory{
		operators:  make(map[id.OperatorID]*models.Operator),
		byUsername: make(map[string]id.OperatorID),
	}
}

func (s *InMemory) Create(_ context.Context, operator *models.Operator) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(operator.Username)
	if _, exists := s.operators[operator.ID]; exists {
		return sentinel.ErrConflict
	}
	if _, taken := s.byUsername[key]; taken {
		return sentinel.ErrAlreadyUsed
	}

	copied := *operator
	s.operators[operator.ID] = &copied
	s.byUsername[key] = operator.ID
	return nil
}

func (s *InMemory) FindByID(_ context.Context, operatorID id.OperatorID) (*models.Operator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.find(operatorID)
}

func (s *InMemory) FindByUsername(_ context.Context, username string) (*models.Operator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	operatorID, ok := s.byUsername[strings.ToLower(username)]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return s.find(operatorID)
}

func (s *InMemory) SetStatus(_ context.Context, operatorID id.OperatorID, status models.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	operator, ok := s.operators[operatorID]
	if !ok {
		return sentinel.ErrNotFound
	}
	operator.Status = status
	return nil
}

func (s *InMemory) find(operatorID id.OperatorID) (*models.Operator, error) {
	operator, ok := s.operators[operatorID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	copied := *operator
	return &copied, nil
}
