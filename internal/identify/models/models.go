// Package models defines the identification domain: registered tags, tap
// access-log entries, and the discriminated resolution result shared by the
// three input channels.
package models

import (
	"strings"
	"time"

	loyalty "gemma/internal/loyalty/models"
	id "gemma/pkg/domain"
	dErrors "gemma/pkg/domain-errors"
)

// Tag binds a physical credential to exactly one customer. Tags are
// provisioned by an external flow and read-only to the resolver.
type Tag struct {
	UID        string        `json:"uid"`
	CustomerID id.CustomerID `json:"customer_id"`
	Active     bool          `json:"active"`
	CreatedAt  time.Time     `json:"created_at"`
}

// AccessEntry is one successful tap, enriched with the terminal and device
// that produced it. Entries are append-only.
type AccessEntry struct {
	ID         id.AccessEntryID `json:"id"`
	TagUID     string           `json:"tag_uid"`
	CustomerID id.CustomerID    `json:"customer_id"`
	TerminalID id.TerminalID    `json:"terminal_id,omitempty"`
	Outcome    AccessOutcome    `json:"outcome"`
	DeviceInfo string           `json:"device_info,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
}

// AccessOutcome records how the tap resolved. Rejected taps never produce an
// entry at all, so the outcomes only distinguish full from read-only access.
type AccessOutcome string

const (
	OutcomeResolved AccessOutcome = "resolved"
	OutcomeReadOnly AccessOutcome = "read_only"
)

// Channel names the input path a resolution came from.
type Channel string

const (
	ChannelTag  Channel = "tag"
	ChannelCode Channel = "code"
)

// Resolution is the single result type for the tag and code channels.
// ReadOnly is set for deactivated customers: they resolve for display, but
// callers must block mutating operations.
type Resolution struct {
	Channel  Channel           `json:"channel"`
	Customer *loyalty.Customer `json:"customer"`
	TagUID   string            `json:"tag_uid,omitempty"`
	ReadOnly bool              `json:"read_only"`
}

// uidSeparators are the characters hardware bridges insert between UID bytes.
const uidSeparators = ":- "

// NormalizeUID canonicalizes a raw hardware UID: separators stripped,
// lower-cased. Tags are stored normalized, so lookups compare canonically.
func NormalizeUID(raw string) (string, error) {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(raw)) {
		if strings.ContainsRune(uidSeparators, r) {
			continue
		}
		b.WriteRune(r)
	}
	if b.Len() == 0 {
		return "", dErrors.New(dErrors.CodeInvalidPayload, "empty credential uid")
	}
	return b.String(), nil
}

// scannedCodePrefix is the only payload shape the code channel accepts.
const scannedCodePrefix = "CUSTOMER:"

// ParseScannedCode validates the strict CUSTOMER:<id> payload produced by the
// code decoder. Anything else is an invalid payload, including a well-formed
// prefix with a malformed id.
func ParseScannedCode(decoded string) (id.CustomerID, error) {
	decoded = strings.TrimSpace(decoded)
	rest, ok := strings.CutPrefix(decoded, scannedCodePrefix)
	if !ok {
		return id.CustomerID{}, dErrors.New(dErrors.CodeInvalidPayload, "scanned code is not a customer credential")
	}
	customerID, err := id.ParseCustomerID(rest)
	if err != nil {
		return id.CustomerID{}, dErrors.New(dErrors.CodeInvalidPayload, "scanned code carries a malformed customer id")
	}
	return customerID, nil
}
