package session

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Extra carries the optional fields a state transition sets alongside the
// new state. Updates are field-level sets so concurrent attribute writers
// (attempt count vs vendor uuid) do not clobber each other.
type Extra struct {
	AuthorizationCode       *string
	AuthorizationCodeExpiry *time.Time
	AccessTokenExpiry       *time.Time
	CheckResult             *CheckResult
}

// Store is the session persistence contract. Implementations return
// sentinel.ErrNotFound for absent records, sentinel.ErrExpired for records
// past their expiry (expired sessions are treated as absent),
// sentinel.ErrConflict for an ambiguous authorization-code lookup, and
// sentinel.ErrInvalidState when a conditional transition finds the session
// in an unexpected state.
type Store interface {
	Create(ctx context.Context, s *Session) error
	GetByID(ctx context.Context, id uuid.UUID) (*Session, error)
	GetByAuthorizationCode(ctx context.Context, code string) (*Session, error)

	// UpdateState sets the new state and any extra fields, conditional on
	// the session currently being in one of the expected states. The guard
	// runs in the same write so a lost race surfaces as ErrInvalidState
	// rather than a silent double transition.
	UpdateState(ctx context.Context, id uuid.UUID, next AuthSessionState, extra Extra, expected ...AuthSessionState) error

	// IncrementAttempt adds one to the attempt count and returns the new
	// value. Only non-full-match outcomes increment.
	IncrementAttempt(ctx context.Context, id uuid.UUID) (int, error)

	AttachVendorUUID(ctx context.Context, id uuid.UUID, vendorUUID string) error

	CreatePersonIdentity(ctx context.Context, p *PersonIdentity) error
	GetPersonIdentity(ctx context.Context, id uuid.UUID) (*PersonIdentity, error)
	AttachAccountDetails(ctx context.Context, id uuid.UUID, sortCode, accountNumber string) error
}
