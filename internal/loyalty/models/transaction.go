package models

import (
	"math"
	"time"

	id "gemma/pkg/domain"
	dErrors "gemma/pkg/domain-errors"
)

// Reason is the closed set of causes a ledger row can carry. Keeping the set
// closed lets reporting and reconciliation switch exhaustively instead of
// parsing free-form strings.
type Reason string

const (
	ReasonSale            Reason = "sale"
	ReasonManualCredit    Reason = "manual_credit"
	ReasonManualDebit     Reason = "manual_debit"
	ReasonReferralWelcome Reason = "referral_welcome"
	ReasonReferralBonus   Reason = "referral_bonus"
	ReasonPrizeRedemption Reason = "prize_redemption"
)

// Valid reports whether r is one of the closed reason variants.
func (r Reason) Valid() bool {
	switch r {
	case ReasonSale, ReasonManualCredit, ReasonManualDebit,
		ReasonReferralWelcome, ReasonReferralBonus, ReasonPrizeRedemption:
		return true
	}
	return false
}

// ParseReason validates an externally supplied reason string.
func ParseReason(s string) (Reason, error) {
	r := Reason(s)
	if !r.Valid() {
		return "", dErrors.Newf(dErrors.CodeInvalidInput, "unknown transaction reason %q", s)
	}
	return r, nil
}

// Transaction is one append-only ledger row. Rows are never mutated or
// deleted; the customer's cached balance is derived from them.
//
// Delta is the requested change; the applied change is NewBalance minus
// PreviousBalance, which differs from Delta only when a deduction clamped at
// zero. Recording both keeps the absorbed remainder visible to reporting.
type Transaction struct {
	ID              id.TransactionID `json:"id"`
	CustomerID      id.CustomerID    `json:"customer_id"`
	Delta           int64            `json:"delta"`
	PreviousBalance int64            `json:"previous_balance"`
	NewBalance      int64            `json:"new_balance"`
	Reason          Reason           `json:"reason"`
	OperatorID      id.OperatorID    `json:"operator_id,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
}

// Applied returns the balance change that actually took effect.
func (t *Transaction) Applied() int64 {
	return t.NewBalance - t.PreviousBalance
}

// IsQualifyingSale reports whether this row can complete a pending referral:
// the referred customer's first positive sale-reason entry.
func (t *Transaction) IsQualifyingSale() bool {
	return t.Reason == ReasonSale && t.Delta > 0
}

// SaleToPoints converts a currency amount into points: the amount is scaled
// by the configured points-per-euro rate and truncated, never rounded, so
// fractional currency can only under-credit.
func SaleToPoints(amount, pointsPerEuro float64) int64 {
	if amount <= 0 || pointsPerEuro <= 0 {
		return 0
	}
	return int64(math.Floor(amount * pointsPerEuro))
}
