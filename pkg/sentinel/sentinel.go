package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores return these (optionally
// wrapped) so services can translate them into domain errors.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: entity does not exist in store
// - ErrExpired: session/token has passed its expiry
// - ErrConflict: duplicate key or ambiguous secondary-index match
// - ErrInvalidState: entity in wrong state for requested transition
// - ErrUnavailable: backing service temporarily unavailable
var (
	ErrNotFound     = errors.New("not found")
	ErrExpired      = errors.New("expired")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
