package handler

import (
	"strings"

	dErrors "gemma/pkg/domain-errors"
)

// RegisterCustomerRequest is the HTTP request body for POST /customers.
type RegisterCustomerRequest struct {
	Name         string `json:"name"`
	Phone        string `json:"phone"`
	Email        string `json:"email"`
	ReferralCode string `json:"referral_code"`
}

// Validate validates the request.
// Implements the Validator interface for httputil.DecodeAndPrepare.
func (r *RegisterCustomerRequest) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return dErrors.New(dErrors.CodeValidation, "name is required")
	}
	if strings.TrimSpace(r.Phone) == "" {
		return dErrors.New(dErrors.CodeValidation, "phone is required")
	}
	if len(r.ReferralCode) > 16 {
		return dErrors.New(dErrors.CodeValidation, "referral_code must be at most 16 characters")
	}
	return nil
}

// SaleRequest is the HTTP request body for POST /customers/{customerID}/sale.
type SaleRequest struct {
	Amount float64 `json:"amount"`
}

// Validate validates the request.
func (r *SaleRequest) Validate() error {
	if r.Amount <= 0 {
		return dErrors.New(dErrors.CodeValidation, "amount must be positive")
	}
	return nil
}

// ApplyDeltaRequest is the HTTP request body for POST /customers/{customerID}/points.
type ApplyDeltaRequest struct {
	Delta  int64  `json:"delta"`
	Reason string `json:"reason"`
}

// Validate validates the request.
func (r *ApplyDeltaRequest) Validate() error {
	if r.Delta == 0 {
		return dErrors.New(dErrors.CodeValidation, "delta must be non-zero")
	}
	if strings.TrimSpace(r.Reason) == "" {
		return dErrors.New(dErrors.CodeValidation, "reason is required")
	}
	return nil
}

// RedeemRequest is the HTTP request body for POST /customers/{customerID}/redeem.
type RedeemRequest struct {
	Prize string `json:"prize"`
}

// Validate validates the request.
func (r *RedeemRequest) Validate() error {
	if strings.TrimSpace(r.Prize) == "" {
		return dErrors.New(dErrors.CodeValidation, "prize is required")
	}
	return nil
}
