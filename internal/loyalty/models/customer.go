package models

import (
	"strings"
	"time"

	id "gemma/pkg/domain"
	dErrors "gemma/pkg/domain-errors"
)

// CustomerStatus tracks whether a customer may be mutated.
type CustomerStatus string

const (
	CustomerStatusActive   CustomerStatus = "active"
	CustomerStatusInactive CustomerStatus = "inactive"
)

// Customer is the aggregate root of the loyalty program.
//
// Invariants:
//   - Points never goes below zero; deductions clamp at zero instead of
//     failing (matches the till behavior for manual corrections and prize
//     redemptions)
//   - Points always equals the clamped running sum of the customer's
//     transaction rows; the field is a cache over the ledger
//   - ReferralCount and ReferralPointsEarned are denormalized from the
//     referral rows; the reconciliation checker repairs them from the rows,
//     never the other way around
//   - Customers are deactivated, never deleted; an inactive customer still
//     resolves for display but rejects every mutating operation
type Customer struct {
	ID            id.CustomerID   `json:"id"`
	Name          string          `json:"name"`
	Phone         string          `json:"phone"`
	Email         string          `json:"email,omitempty"`
	Points        int64           `json:"points"`
	ReferralCode  id.ReferralCode `json:"referral_code"`
	ReferredBy    *id.CustomerID  `json:"referred_by,omitempty"`
	ReferralCount int             `json:"referral_count"`
	// ReferralPointsEarned caches the lifetime sum of bonuses disbursed for
	// this customer's completed referrals.
	ReferralPointsEarned int64          `json:"referral_points_earned"`
	Status               CustomerStatus `json:"status"`
	CreatedAt            time.Time      `json:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
}

func (c *Customer) IsActive() bool {
	return c.Status == CustomerStatusActive
}

// CanMutate gates every balance- or referral-mutating operation. Reactivation
// bypasses this check deliberately; it lives outside the ledger.
func (c *Customer) CanMutate() error {
	if !c.IsActive() {
		return dErrors.New(dErrors.CodeInvariantViolation, "customer is deactivated")
	}
	return nil
}

// ApplyPointsDelta mutates the cached balance, clamping at zero. It returns
// the previous and new balances so the caller can record them on the
// transaction row. Call under the store's Execute lock.
func (c *Customer) ApplyPointsDelta(delta int64, now time.Time) (previous, newBalance int64) {
	previous = c.Points
	newBalance = previous + delta
	if newBalance < 0 {
		newBalance = 0
	}
	c.Points = newBalance
	c.UpdatedAt = now
	return previous, newBalance
}

// RecordCompletedReferral bumps the denormalized referral counters after a
// completion has been committed on the referral row.
func (c *Customer) RecordCompletedReferral(pointsAwarded int64, now time.Time) {
	c.ReferralCount++
	c.ReferralPointsEarned += pointsAwarded
	c.UpdatedAt = now
}

// CanDeactivate checks the active → inactive transition.
func (c *Customer) CanDeactivate() error {
	if !c.IsActive() {
		return dErrors.New(dErrors.CodeInvariantViolation, "customer is already deactivated")
	}
	return nil
}

// ApplyDeactivation transitions the customer to inactive status.
func (c *Customer) ApplyDeactivation(now time.Time) {
	c.Status = CustomerStatusInactive
	c.UpdatedAt = now
}

// CanReactivate checks the inactive → active transition.
func (c *Customer) CanReactivate() error {
	if c.IsActive() {
		return dErrors.New(dErrors.CodeInvariantViolation, "customer is already active")
	}
	return nil
}

// ApplyReactivation transitions the customer back to active status.
func (c *Customer) ApplyReactivation(now time.Time) {
	c.Status = CustomerStatusActive
	c.UpdatedAt = now
}

// NewCustomer validates and constructs a customer at registration time.
// Points start at zero; the referral welcome bonus goes through the ledger so
// it leaves a transaction row.
func NewCustomer(customerID id.CustomerID, name, phone, email string, code id.ReferralCode, now time.Time) (*Customer, error) {
	name = strings.TrimSpace(name)
	phone = strings.TrimSpace(phone)
	email = strings.TrimSpace(email)
	if name == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "customer name cannot be empty")
	}
	if len(name) > 128 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "customer name must be 128 characters or less")
	}
	if phone == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "customer phone cannot be empty")
	}
	if code.IsEmpty() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "customer referral code cannot be empty")
	}
	return &Customer{
		ID:           customerID,
		Name:         name,
		Phone:        phone,
		Email:        email,
		ReferralCode: code,
		Status:       CustomerStatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}
