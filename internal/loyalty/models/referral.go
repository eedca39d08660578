package models

import (
	"time"

	id "gemma/pkg/domain"
	dErrors "gemma/pkg/domain-errors"
)

// ReferralStatus is the two-state referral lifecycle. A referral transitions
// pending → completed exactly once and never reverts.
type ReferralStatus string

const (
	ReferralStatusPending   ReferralStatus = "pending"
	ReferralStatusCompleted ReferralStatus = "completed"
)

// Referral links a referring customer to a newly registered one. Created
// once per registration-with-code event; the referrer's bonus is computed and
// recorded at completion.
type Referral struct {
	ID            id.ReferralID  `json:"id"`
	ReferrerID    id.CustomerID  `json:"referrer_id"`
	ReferredID    id.CustomerID  `json:"referred_id"`
	Status        ReferralStatus `json:"status"`
	PointsAwarded int64          `json:"points_awarded"`
	CreatedAt     time.Time      `json:"created_at"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
}

func (r *Referral) IsCompleted() bool {
	return r.Status == ReferralStatusCompleted
}

// CanComplete checks the pending → completed transition. Completing an
// already-completed referral is the idempotent no-op the retry paths rely on,
// reported with its own code so callers can tell it from a real conflict.
func (r *Referral) CanComplete() error {
	if r.IsCompleted() {
		return dErrors.New(dErrors.CodeAlreadyCompleted, "referral already completed")
	}
	return nil
}

// ApplyCompletion flips the referral to completed and records the awarded
// points. Call CanComplete first; use under the store's Execute lock.
func (r *Referral) ApplyCompletion(pointsAwarded int64, now time.Time) {
	r.Status = ReferralStatusCompleted
	r.PointsAwarded = pointsAwarded
	r.CompletedAt = &now
}

// NewReferral validates and constructs a pending referral.
func NewReferral(referralID id.ReferralID, referrerID, referredID id.CustomerID, now time.Time) (*Referral, error) {
	if referrerID.IsNil() || referredID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "referral requires both referrer and referred ids")
	}
	if referrerID == referredID {
		return nil, dErrors.New(dErrors.CodeSelfReferral, "customers cannot refer themselves")
	}
	return &Referral{
		ID:         referralID,
		ReferrerID: referrerID,
		ReferredID: referredID,
		Status:     ReferralStatusPending,
		CreatedAt:  now,
	}, nil
}
