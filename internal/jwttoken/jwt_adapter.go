package jwttoken

import (
	"gemma/internal/platform/middleware"
)

// JWTServiceAdapter narrows JWTService to the middleware.JWTValidator
// interface so the middleware package stays free of jwt library types.
type JWTServiceAdapter struct {
	service *JWTService
}

func NewJWTServiceAdapter(service *JWTService) *JWTServiceAdapter {
	return &JWTServiceAdapter{service: service}
}

func (a *JWTServiceAdapter) ValidateToken(tokenString string) (*middleware.JWTClaims, error) {
	claims, err := a.service.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	return &middleware.JWTClaims{
		OperatorID: claims.OperatorID,
		Username:   claims.Username,
	}, nil
}
