package verification

import (
	"context"
	"strings"

	"bankcri/internal/session"
)

// MatchValue is one axis of a raw vendor response. Vendors answer both
// "does the name match" and "does the account exist" on this scale.
type MatchValue string

const (
	MatchYes           MatchValue = "yes"
	MatchPartial       MatchValue = "partial"
	MatchNo            MatchValue = "no"
	MatchError         MatchValue = "error"
	MatchIndeterminate MatchValue = "indeterminate"
	MatchInapplicable  MatchValue = "inapplicable"
)

// Outcome is the raw vendor verification response. It is never persisted
// as-is; CalculateCheckResult reduces it to a session.CheckResult.
type Outcome struct {
	NameMatches      MatchValue
	AccountExists    MatchValue
	AccountName      string
	SortCodeBankName string
	ItemNumber       string
}

// Request carries the identity and account details a vendor check needs. The
// account number is already zero-padded by the orchestrator.
type Request struct {
	Name          string
	BirthDate     string
	SortCode      string
	AccountNumber string
	CorrelationID string
}

// Verifier is the vendor abstraction. One implementation is selected per
// deployment via configuration; there is no per-request polymorphism.
type Verifier interface {
	Name() string
	Verify(ctx context.Context, req Request) (*Outcome, error)
}

// CalculateCheckResult reduces a raw vendor outcome to the persisted check
// result. It is a pure total function over the full nameMatches x
// accountExists domain:
//
//	(yes, yes)          -> FULL_MATCH
//	(partial, yes)      -> PARTIAL_MATCH
//	(error, *) | (*, error) -> MATCH_ERROR
//	everything else     -> NO_MATCH
func CalculateCheckResult(o Outcome) session.CheckResult {
	if o.NameMatches == MatchError || o.AccountExists == MatchError {
		return session.CheckResultMatchError
	}
	if o.AccountExists == MatchYes {
		switch o.NameMatches {
		case MatchYes:
			return session.CheckResultFullMatch
		case MatchPartial:
			return session.CheckResultPartialMatch
		}
	}
	return session.CheckResultNoMatch
}

// PadAccountNumber zero-left-pads an account number to 8 digits. Longer
// values pass through unchanged.
func PadAccountNumber(accountNumber string) string {
	if len(accountNumber) >= 8 {
		return accountNumber
	}
	return strings.Repeat("0", 8-len(accountNumber)) + accountNumber
}
