package ledger

import (
	"context"
	"errors"

	"gemma/internal/loyalty/models"
	"gemma/internal/loyalty/ports"
	id "gemma/pkg/domain"
	dErrors "gemma/pkg/domain-errors"
	"gemma/pkg/platform/audit"
	"gemma/pkg/platform/sentinel"
	"gemma/pkg/requestcontext"
)

// DeactivateCustomer transitions a customer to inactive. The record stays
// resolvable for display but rejects every mutating operation.
//
// Uses the Execute callback pattern for atomic validate-then-mutate.
// The store's Execute method holds the lock (mutex or FOR UPDATE) during both validation and mutation.
func (s *Service) DeactivateCustomer(ctx context.Context, customerID id.CustomerID) (*models.Customer, error) {
	now := requestcontext.Now(ctx)
	customer, err := s.customers.Execute(ctx, customerID,
		func(c *models.Customer) error {
			if err := c.CanDeactivate(); err != nil {
				if dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
					return dErrors.New(dErrors.CodeConflict, "customer is already inactive")
				}
				return err
			}
			return nil
		},
		func(c *models.Customer) {
			c.ApplyDeactivation(now)
		},
	)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "customer not found")
		}
		return nil, err
	}

	ports.LogAudit(ctx, s.logger, s.publisher, audit.Event{
		CustomerID: customerID,
		Action:     string(audit.EventCustomerDeactivated),
	})
	return customer, nil
}

// ReactivateCustomer transitions a customer back to active.
func (s *Service) ReactivateCustomer(ctx context.Context, customerID id.CustomerID) (*models.Customer, error) {
	now := requestcontext.Now(ctx)
	customer, err := s.customers.Execute(ctx, customerID,
		func(c *models.Customer) error {
			if err := c.CanReactivate(); err != nil {
				if dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
					return dErrors.New(dErrors.CodeConflict, "customer is already active")
				}
				return err
			}
			return nil
		},
		func(c *models.Customer) {
			c.ApplyReactivation(now)
		},
	)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "customer not found")
		}
		return nil, err
	}

	ports.LogAudit(ctx, s.logger, s.publisher, audit.Event{
		CustomerID: customerID,
		Action:     string(audit.EventCustomerReactivated),
	})
	return customer, nil
}
