package handler

import (
	"strings"

	dErrors "gemma/pkg/domain-errors"
)

// LoginRequest is the HTTP request body for POST /auth/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Validate validates the request.
// Implements the Validator interface for httputil.DecodeAndPrepare.
func (r *LoginRequest) Validate() error {
	if strings.TrimSpace(r.Username) == "" {
		return dErrors.New(dErrors.CodeValidation, "username is required")
	}
	if r.Password == "" {
		return dErrors.New(dErrors.CodeValidation, "password is required")
	}
	return nil
}

// CreateOperatorRequest is the HTTP request body for POST /operators.
type CreateOperatorRequest struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

// Validate validates the request.
func (r *CreateOperatorRequest) Validate() error {
	if strings.TrimSpace(r.Username) == "" {
		return dErrors.New(dErrors.CodeValidation, "username is required")
	}
	if len(r.Username) > 64 {
		return dErrors.New(dErrors.CodeValidation, "username must be at most 64 characters")
	}
	if len(r.Password) < 8 {
		return dErrors.New(dErrors.CodeValidation, "password must be at least 8 characters")
	}
	return nil
}

// SetStatusRequest is the HTTP request body for PUT /operators/{operatorID}/status.
type SetStatusRequest struct {
	Status string `json:"status"`
}

// Validate validates the request.
func (r *SetStatusRequest) Validate() error {
	switch r.Status {
	case "active", "disabled":
		return nil
	default:
		return dErrors.New(dErrors.CodeValidation, "status must be active or disabled")
	}
}
