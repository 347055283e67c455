// Package auth drives the authorization-code and access-token transitions of
// the session state machine.
package auth

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"bankcri/internal/session"
	dErrors "bankcri/pkg/domainerrors"
	"bankcri/pkg/sentinel"
)

// TokenResponse is the caller-facing result of a code exchange.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// Service issues authorization codes and exchanges them for bearer tokens.
type Service struct {
	store          session.Store
	jwt            *JWTService
	authCodeTTL    time.Duration
	accessTokenTTL time.Duration
	now            func() time.Time
}

func NewService(store session.Store, jwt *JWTService, authCodeTTL, accessTokenTTL time.Duration) *Service {
	return &Service{
		store:          store,
		jwt:            jwt,
		authCodeTTL:    authCodeTTL,
		accessTokenTTL: accessTokenTTL,
		now:            time.Now,
	}
}

// WithClock overrides the service clock. Test support.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// IssueAuthorizationCode advances DATA_RECEIVED to AUTH_CODE_ISSUED and
// returns the new single-use code.
func (s *Service) IssueAuthorizationCode(ctx context.Context, sessionID uuid.UUID) (string, error) {
	sess, err := s.store.GetByID(ctx, sessionID)
	if err != nil {
		return "", translateSessionErr(err)
	}
	if sess.AuthSessionState != session.StateDataReceived {
		return "", dErrors.Newf(dErrors.CodeUnauthorized,
			"session in state %s, expected %s", sess.AuthSessionState, session.StateDataReceived)
	}

	code := uuid.NewString()
	expiry := s.now().Add(s.authCodeTTL)
	if err := s.store.UpdateState(ctx, sessionID, session.StateAuthCodeIssued,
		session.Extra{AuthorizationCode: &code, AuthorizationCodeExpiry: &expiry},
		session.StateDataReceived); err != nil {
		return "", translateSessionErr(err)
	}
	return code, nil
}

// ExchangeCodeForToken looks the session up by authorization code and
// advances it to ACCESS_TOKEN_ISSUED, returning a bearer token. An absent,
// ambiguous, expired or already-consumed code is unauthorized.
func (s *Service) ExchangeCodeForToken(ctx context.Context, code string) (*TokenResponse, error) {
	sess, err := s.store.GetByAuthorizationCode(ctx, code)
	if err != nil {
		return nil, translateSessionErr(err)
	}
	if sess.AuthSessionState != session.StateAuthCodeIssued {
		return nil, dErrors.Newf(dErrors.CodeUnauthorized,
			"session in state %s, expected %s", sess.AuthSessionState, session.StateAuthCodeIssued)
	}
	if sess.AuthorizationCodeExpiry == nil || sess.AuthorizationCodeExpiry.Before(s.now()) {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "authorization code expired")
	}

	token, err := s.jwt.GenerateAccessToken(sess.ID, sess.ClientID, s.accessTokenTTL)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate access token")
	}

	tokenExpiry := s.now().Add(s.accessTokenTTL)
	if err := s.store.UpdateState(ctx, sess.ID, session.StateAccessTokenIssued,
		session.Extra{AccessTokenExpiry: &tokenExpiry},
		session.StateAuthCodeIssued); err != nil {
		return nil, translateSessionErr(err)
	}

	return &TokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(s.accessTokenTTL.Seconds()),
	}, nil
}

// AuthorizeBearer validates a bearer token and returns the session it is
// bound to.
func (s *Service) AuthorizeBearer(tokenString string) (uuid.UUID, error) {
	return s.jwt.ExtractSessionID(tokenString)
}

func translateSessionErr(err error) error {
	switch {
	case errors.Is(err, sentinel.ErrExpired):
		return dErrors.Wrap(err, dErrors.CodeUnauthorized, "session expired")
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.Wrap(err, dErrors.CodeUnauthorized, "session not found")
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.Wrap(err, dErrors.CodeUnauthorized, "ambiguous authorization code")
	case errors.Is(err, sentinel.ErrInvalidState):
		return dErrors.Wrap(err, dErrors.CodeUnauthorized, "session state changed")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "session store failure")
	}
}
