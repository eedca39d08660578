// Package models defines staff operator accounts.
package models

import (
	"time"

	id "gemma/pkg/domain"
)

// Status is the lifecycle state of an operator account.
type Status string

const (
	StatusActive   Status = "active"
	StatusDisabled Status = "disabled"
)

// Operator is a staff account that authenticates against the admin API.
// PasswordHash is a bcrypt hash and never leaves the store layer in
// plaintext form.
type Operator struct {
	ID           id.OperatorID
	Username     string
	PasswordHash string
	DisplayName  string
	Status       Status
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// CanLogin reports whether the account may authenticate.
func (o *Operator) CanLogin() bool {
	return o.Status == StatusActive
}
