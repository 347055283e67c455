package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"bankcri/internal/events"
	"bankcri/internal/jose"
	"bankcri/internal/platform/config"
	dErrors "bankcri/pkg/domainerrors"
	"bankcri/pkg/sentinel"
)

// CreateRequest is the inbound session-creation request: the client id and
// the encrypted, signed request object it produced.
type CreateRequest struct {
	ClientID        string `json:"client_id"`
	Request         string `json:"request"`
	ClientIPAddress string `json:"-"`
}

// CreateResponse returns the new session handle to the caller.
type CreateResponse struct {
	SessionID string `json:"session_id"`
	State     string `json:"state"`
}

// requestClaims is the decrypted request object payload. The shared claims
// follow the GOV.UK identity vocabulary.
type requestClaims struct {
	Subject         string       `json:"sub"`
	Issuer          string       `json:"iss"`
	Audience        string       `json:"aud"`
	ExpiresAt       int64        `json:"exp"`
	State           string       `json:"state"`
	ClientID        string       `json:"client_id"`
	RedirectURI     string       `json:"redirect_uri"`
	ClientSessionID string       `json:"govuk_signin_journey_id"`
	SharedClaims    sharedClaims `json:"shared_claims"`
}

type sharedClaims struct {
	Name      []nameClaim      `json:"name"`
	BirthDate []birthDateClaim `json:"birthDate"`
}

type nameClaim struct {
	NameParts []NamePart `json:"nameParts"`
}

type birthDateClaim struct {
	Value string `json:"value"`
}

// Service creates sessions from encrypted request objects. Every other
// mutation of a session happens through the verification, auth or credential
// services.
type Service struct {
	store      Store
	crypto     *jose.Adapter
	publisher  events.Publisher
	clients    map[string]config.Client
	sessionTTL time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

func NewService(store Store, crypto *jose.Adapter, publisher events.Publisher, clients map[string]config.Client, sessionTTL time.Duration, logger *slog.Logger) *Service {
	return &Service{
		store:      store,
		crypto:     crypto,
		publisher:  publisher,
		clients:    clients,
		sessionTTL: sessionTTL,
		logger:     logger,
		now:        time.Now,
	}
}

// WithClock overrides the service clock. Test support.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// CreateSession decrypts and verifies the request object, then records the
// session and the person identity carried in the shared claims. Any failure
// to decrypt, decode or verify the request object is unauthorized without
// detail; the caller learns nothing about which stage rejected it.
func (s *Service) CreateSession(ctx context.Context, req CreateRequest) (*CreateResponse, error) {
	client, ok := s.clients[req.ClientID]
	if !ok {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "unknown client")
	}

	signedRequest, err := s.crypto.Decrypt(ctx, req.Request)
	if err != nil {
		if errors.Is(err, jose.ErrDecryptionFailed) || errors.Is(err, jose.ErrMalformedToken) {
			return nil, dErrors.Wrap(err, dErrors.CodeUnauthorized, "invalid session request")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to decrypt session request")
	}

	decoded, err := jose.Decode(signedRequest)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnauthorized, "invalid session request")
	}

	payload, err := s.crypto.VerifyWithJWKS(ctx, signedRequest, client.JWKSBaseURL, decoded.Header.Kid)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to verify session request")
	}
	if payload == nil {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid session request")
	}

	var claims requestClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "malformed session request claims")
	}

	if err := s.validateClaims(req.ClientID, client, claims); err != nil {
		return nil, err
	}

	now := s.now()
	sess := &Session{
		ID:               uuid.New(),
		ClientID:         req.ClientID,
		ClientSessionID:  claims.ClientSessionID,
		RedirectURI:      claims.RedirectURI,
		State:            claims.State,
		Subject:          claims.Subject,
		AuthSessionState: StateSessionCreated,
		CreatedDate:      now,
		ExpiryDate:       now.Add(s.sessionTTL),
		ClientIPAddress:  req.ClientIPAddress,
	}
	if err := s.store.Create(ctx, sess); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create session")
	}

	identity := &PersonIdentity{
		SessionID:   sess.ID,
		NameParts:   flattenNameParts(claims.SharedClaims.Name),
		CreatedDate: now,
		ExpiryDate:  sess.ExpiryDate,
	}
	if len(claims.SharedClaims.BirthDate) > 0 && claims.SharedClaims.BirthDate[0].Value != "" {
		bd := claims.SharedClaims.BirthDate[0].Value
		identity.BirthDate = &bd
	}
	if err := s.store.CreatePersonIdentity(ctx, identity); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store person identity")
	}

	s.emitAudit(ctx, events.EventSessionCreated, sess)
	return &CreateResponse{SessionID: sess.ID.String(), State: sess.State}, nil
}

// Abort moves a session to the terminal SESSION_ABORTED state. Already
// terminal sessions are rejected.
func (s *Service) Abort(ctx context.Context, sessionID uuid.UUID) error {
	sess, err := s.store.GetByID(ctx, sessionID)
	if err != nil {
		switch {
		case errors.Is(err, sentinel.ErrNotFound), errors.Is(err, sentinel.ErrExpired):
			return dErrors.Wrap(err, dErrors.CodeUnauthorized, "session not found")
		default:
			return dErrors.Wrap(err, dErrors.CodeInternal, "session store failure")
		}
	}
	if sess.AuthSessionState.Terminal() {
		return dErrors.Newf(dErrors.CodeUnauthorized, "session in terminal state %s", sess.AuthSessionState)
	}

	if err := s.store.UpdateState(ctx, sessionID, StateAborted, Extra{},
		StateSessionCreated, StateDataReceived, StateAuthCodeIssued, StateAccessTokenIssued); err != nil {
		if errors.Is(err, sentinel.ErrInvalidState) {
			return dErrors.Wrap(err, dErrors.CodeUnauthorized, "session state changed")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to abort session")
	}

	s.emitAudit(ctx, events.EventSessionAborted, sess)
	return nil
}

func (s *Service) validateClaims(clientID string, client config.Client, claims requestClaims) error {
	if claims.ClientID != "" && claims.ClientID != clientID {
		return dErrors.New(dErrors.CodeUnauthorized, "client mismatch in session request")
	}
	if client.RedirectURI != "" && claims.RedirectURI != client.RedirectURI {
		return dErrors.New(dErrors.CodeUnauthorized, "redirect URI not registered for client")
	}
	if claims.ExpiresAt != 0 && time.Unix(claims.ExpiresAt, 0).Before(s.now()) {
		return dErrors.New(dErrors.CodeUnauthorized, "session request expired")
	}
	if claims.Subject == "" {
		return dErrors.New(dErrors.CodeBadRequest, "session request missing subject")
	}
	if len(flattenNameParts(claims.SharedClaims.Name)) == 0 {
		return dErrors.New(dErrors.CodeBadRequest, "session request missing name parts")
	}
	return nil
}

func (s *Service) emitAudit(ctx context.Context, event events.AuditEventType, sess *Session) {
	ev := events.AuditEvent{
		Event:           event,
		Timestamp:       s.now(),
		SessionID:       sess.ID.String(),
		ClientSessionID: sess.ClientSessionID,
	}
	if err := s.publisher.PublishAudit(ctx, ev); err != nil {
		s.logger.WarnContext(ctx, "failed to publish audit event",
			slog.String("event", string(event)),
			slog.String("sessionId", sess.ID.String()),
			slog.String("error", fmt.Sprintf("%v", err)))
	}
}

func flattenNameParts(names []nameClaim) []NamePart {
	var out []NamePart
	for _, n := range names {
		out = append(out, n.NameParts...)
	}
	return out
}
