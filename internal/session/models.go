package session

import (
	"time"

	"github.com/google/uuid"
)

// AuthSessionState tracks where a session is in the verification journey.
// States only advance forward, or move to the terminal SESSION_ABORTED; this
// service never rolls a session back.
type AuthSessionState string

const (
	StateSessionCreated    AuthSessionState = "SESSION_CREATED"
	StateDataReceived      AuthSessionState = "DATA_RECEIVED"
	StateAuthCodeIssued    AuthSessionState = "AUTH_CODE_ISSUED"
	StateAccessTokenIssued AuthSessionState = "ACCESS_TOKEN_ISSUED"
	StateVCIssued          AuthSessionState = "VC_ISSUED"
	StateAborted           AuthSessionState = "SESSION_ABORTED"
)

// Terminal reports whether no further transitions are allowed from s.
func (s AuthSessionState) Terminal() bool {
	return s == StateVCIssued || s == StateAborted
}

// CheckResult is the reduced outcome of a vendor verification, persisted on
// the session. It drives credential evidence scoring: validityScore is 2 for
// a full match and 0 for everything else.
type CheckResult string

const (
	CheckResultFullMatch    CheckResult = "FULL_MATCH"
	CheckResultPartialMatch CheckResult = "PARTIAL_MATCH"
	CheckResultNoMatch      CheckResult = "NO_MATCH"
	CheckResultMatchError   CheckResult = "MATCH_ERROR"
)

// Session is the journey record for one verification attempt sequence. It is
// owned exclusively by the session store and mutated only through the
// store's transition operations.
type Session struct {
	ID                      uuid.UUID
	ClientID                string
	ClientSessionID         string
	RedirectURI             string
	State                   string
	Subject                 string
	AuthSessionState        AuthSessionState
	CreatedDate             time.Time
	ExpiryDate              time.Time
	AuthorizationCode       *string
	AuthorizationCodeExpiry *time.Time
	AccessTokenExpiry       *time.Time
	AttemptCount            int
	VendorUUID              *string
	CheckResult             CheckResult
	ClientIPAddress         string
}

// Expired reports whether the session should be treated as absent.
func (s *Session) Expired(now time.Time) bool {
	return s.ExpiryDate.Before(now)
}

// NamePartType distinguishes given from family name parts.
type NamePartType string

const (
	NamePartGiven  NamePartType = "GivenName"
	NamePartFamily NamePartType = "FamilyName"
)

// NamePart is one ordered component of a person's name.
type NamePart struct {
	Type  NamePartType `json:"type"`
	Value string       `json:"value"`
}

// PersonIdentity holds the shared claims captured at session creation plus
// the account details attached by the verify step.
type PersonIdentity struct {
	SessionID     uuid.UUID
	NameParts     []NamePart
	BirthDate     *string
	SortCode      string
	AccountNumber string
	CreatedDate   time.Time
	ExpiryDate    time.Time
}

// GivenNames returns the ordered given-name values.
func (p *PersonIdentity) GivenNames() []string {
	var out []string
	for _, part := range p.NameParts {
		if part.Type == NamePartGiven {
			out = append(out, part.Value)
		}
	}
	return out
}

// FamilyName returns the first family-name part, or empty.
func (p *PersonIdentity) FamilyName() string {
	for _, part := range p.NameParts {
		if part.Type == NamePartFamily {
			return part.Value
		}
	}
	return ""
}

// FullName joins all name parts in order for vendor payloads.
func (p *PersonIdentity) FullName() string {
	name := ""
	for _, part := range p.NameParts {
		if part.Value == "" {
			continue
		}
		if name != "" {
			name += " "
		}
		name += part.Value
	}
	return name
}
