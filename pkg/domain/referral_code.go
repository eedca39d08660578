package domain

import (
	"crypto/rand"
	"math/big"
	"regexp"
	"strings"

	dErrors "gemma/pkg/domain-errors"
)

// ReferralCode is the customer-facing share code, assigned once at
// registration. Format: up to five letters taken from the customer's first
// name, a dash, and four random uppercase alphanumerics (e.g. MARIO-X7B2).
type ReferralCode string

func (c ReferralCode) String() string { return string(c) }

func (c ReferralCode) IsEmpty() bool { return c == "" }

var referralCodePattern = regexp.MustCompile(`^[A-Z]{1,5}-[A-Z0-9]{4}$`)

// ParseReferralCode validates an operator- or customer-supplied code. Codes
// are stored uppercase; input is upper-cased and trimmed before matching so a
// hand-typed "mario-x7b2" still resolves.
func ParseReferralCode(s string) (ReferralCode, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "referral code must not be empty")
	}
	if !referralCodePattern.MatchString(s) {
		return "", dErrors.New(dErrors.CodeInvalidInput, "referral code has an invalid format")
	}
	return ReferralCode(s), nil
}

const codeSuffixAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// GenerateReferralCode derives a new code from a customer display name.
// Uniqueness is enforced by the customer store, not here; callers retry with
// a fresh code on conflict.
func GenerateReferralCode(displayName string) ReferralCode {
	first := displayName
	if i := strings.IndexByte(first, ' '); i > 0 {
		first = first[:i]
	}
	var prefix strings.Builder
	for _, r := range strings.ToUpper(first) {
		if r >= 'A' && r <= 'Z' {
			prefix.WriteRune(r)
			if prefix.Len() == 5 {
				break
			}
		}
	}
	if prefix.Len() == 0 {
		prefix.WriteString("GEMMA")
	}

	suffix := make([]byte, 4)
	for i := range suffix {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(codeSuffixAlphabet))))
		if err != nil {
			// crypto/rand only fails when the platform entropy source is
			// broken; fall back to a fixed byte rather than panicking.
			suffix[i] = 'X'
			continue
		}
		suffix[i] = codeSuffixAlphabet[n.Int64()]
	}
	return ReferralCode(prefix.String() + "-" + string(suffix))
}
