// Package domain holds the typed identifiers shared across features. Wrapping
// uuid.UUID in distinct types lets the compiler reject cross-entity mixups
// (passing a referral id where a customer id is expected) at no runtime cost.
package domain

import (
	"github.com/google/uuid"

	dErrors "gemma/pkg/domain-errors"
)

type (
	// CustomerID identifies a loyalty customer.
	CustomerID uuid.UUID
	// ReferralID identifies a referral record.
	ReferralID uuid.UUID
	// TransactionID identifies an append-only ledger row.
	TransactionID uuid.UUID
	// OperatorID identifies a staff operator account.
	OperatorID uuid.UUID
	// AccessEntryID identifies a tap access-log row.
	AccessEntryID uuid.UUID
)

// TerminalID identifies a point-of-sale terminal. Terminals are provisioned
// with stable string names (not UUIDs), so this stays a string type.
type TerminalID string

func (t TerminalID) String() string { return string(t) }

func (id CustomerID) String() string    { return uuid.UUID(id).String() }
func (id ReferralID) String() string    { return uuid.UUID(id).String() }
func (id TransactionID) String() string { return uuid.UUID(id).String() }
func (id OperatorID) String() string    { return uuid.UUID(id).String() }
func (id AccessEntryID) String() string { return uuid.UUID(id).String() }

func (id CustomerID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id ReferralID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id TransactionID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id OperatorID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }

// NewCustomerID returns a fresh random customer id.
func NewCustomerID() CustomerID { return CustomerID(uuid.New()) }

// NewReferralID returns a fresh random referral id.
func NewReferralID() ReferralID { return ReferralID(uuid.New()) }

// NewTransactionID returns a fresh random transaction id.
func NewTransactionID() TransactionID { return TransactionID(uuid.New()) }

// NewOperatorID returns a fresh random operator id.
func NewOperatorID() OperatorID { return OperatorID(uuid.New()) }

// NewAccessEntryID returns a fresh random access-log entry id.
func NewAccessEntryID() AccessEntryID { return AccessEntryID(uuid.New()) }

// ParseCustomerID validates and parses a customer id at a trust boundary.
func ParseCustomerID(s string) (CustomerID, error) {
	u, err := parseUUID(s)
	if err != nil {
		return CustomerID{}, err
	}
	return CustomerID(u), nil
}

// ParseReferralID validates and parses a referral id at a trust boundary.
func ParseReferralID(s string) (ReferralID, error) {
	u, err := parseUUID(s)
	if err != nil {
		return ReferralID{}, err
	}
	return ReferralID(u), nil
}

// ParseTransactionID validates and parses a transaction id at a trust boundary.
func ParseTransactionID(s string) (TransactionID, error) {
	u, err := parseUUID(s)
	if err != nil {
		return TransactionID{}, err
	}
	return TransactionID(u), nil
}

// ParseOperatorID validates and parses an operator id at a trust boundary.
func ParseOperatorID(s string) (OperatorID, error) {
	u, err := parseUUID(s)
	if err != nil {
		return OperatorID{}, err
	}
	return OperatorID(u), nil
}

// parseUUID enforces the shared invariant: ids must be valid, non-empty,
// non-nil UUIDs.
func parseUUID(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id must not be empty")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "id is not a valid UUID")
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id must not be the nil UUID")
	}
	return u, nil
}
