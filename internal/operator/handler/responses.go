package handler

import (
	"time"

	"gemma/internal/operator/models"
	"gemma/internal/operator/service"
)

// LoginResponse is the HTTP response body for POST /auth/login.
type LoginResponse struct {
	AccessToken string           `json:"access_token"`
	TokenType   string           `json:"token_type"`
	ExpiresIn   int64            `json:"expires_in"`
	Operator    OperatorResponse `json:"operator"`
}

// FromLoginResult converts a login result to its response representation.
func FromLoginResult(result *service.LoginResult) LoginResponse {
	return LoginResponse{
		AccessToken: result.Token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(result.ExpiresIn / time.Second),
		Operator:    FromOperator(result.Operator),
	}
}

// OperatorResponse is the wire representation of an operator account. The
// password hash never appears here.
type OperatorResponse struct {
	ID          string    `json:"id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name,omitempty"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

// FromOperator converts an operator to its response representation.
func FromOperator(operator *models.Operator) OperatorResponse {
	return OperatorResponse{
		ID:          operator.ID.String(),
		Username:    operator.Username,
		DisplayName: operator.DisplayName,
		Status:      string(operator.Status),
		CreatedAt:   operator.CreatedAt,
	}
}
