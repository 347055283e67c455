package verification

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"bankcri/internal/events"
	"bankcri/internal/session"
	"bankcri/internal/verification/metrics"
	dErrors "bankcri/pkg/domainerrors"
	"bankcri/pkg/sentinel"
)

var tracer = otel.Tracer("bankcri/verification")

// AccountDetails is the caller-supplied bank account to verify.
type AccountDetails struct {
	SortCode      string
	AccountNumber string
}

// Result is the caller-facing outcome of a verify call. AttemptCount is only
// populated for non-full-match outcomes; a successful caller has no use for
// the count.
type Result struct {
	CheckResult  session.CheckResult
	Message      string
	AttemptCount *int
}

// Service drives the verify-account transition of the session state machine:
// it gates on session state and attempt count, runs the vendor check, reduces
// the outcome, and persists the results.
type Service struct {
	store       session.Store
	verifier    Verifier
	publisher   events.Publisher
	metrics     *metrics.Metrics
	logger      *slog.Logger
	maxAttempts int
	now         func() time.Time
}

func NewService(store session.Store, verifier Verifier, publisher events.Publisher, m *metrics.Metrics, logger *slog.Logger, maxAttempts int) *Service {
	return &Service{
		store:       store,
		verifier:    verifier,
		publisher:   publisher,
		metrics:     m,
		logger:      logger,
		maxAttempts: maxAttempts,
		now:         time.Now,
	}
}

// WithClock overrides the service clock. Test support.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// VerifyAccount runs one verification attempt for the session.
//
// Preconditions, checked in order before any vendor call: the session and
// person identity exist and are unexpired, the session is in
// SESSION_CREATED or DATA_RECEIVED, and the attempt limit is not reached.
// Account details are persisted (zero-padded) regardless of the match
// outcome. A MATCH_ERROR outcome is a server fault and does not count as an
// attempt; every other non-full-match outcome increments the attempt count.
// A partial match additionally emits a review record on the side-channel.
func (s *Service) VerifyAccount(ctx context.Context, sessionID uuid.UUID, details AccountDetails) (*Result, error) {
	ctx, span := tracer.Start(ctx, "verification.VerifyAccount",
		trace.WithAttributes(attribute.String("session.id", sessionID.String())))
	defer span.End()

	sess, err := s.store.GetByID(ctx, sessionID)
	if err != nil {
		return nil, translateSessionErr(err)
	}
	if err := requireState(sess, session.StateSessionCreated, session.StateDataReceived); err != nil {
		return nil, err
	}

	person, err := s.store.GetPersonIdentity(ctx, sessionID)
	if err != nil {
		return nil, translateSessionErr(err)
	}

	if sess.AttemptCount >= s.maxAttempts {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "too many attempts")
	}

	correlationID, err := s.ensureVendorUUID(ctx, sess)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist vendor correlation id")
	}

	padded := PadAccountNumber(details.AccountNumber)
	if err := s.store.AttachAccountDetails(ctx, sessionID, details.SortCode, padded); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist account details")
	}

	outcome, err := s.verifier.Verify(ctx, Request{
		Name:          person.FullName(),
		BirthDate:     birthDate(person),
		SortCode:      details.SortCode,
		AccountNumber: padded,
		CorrelationID: correlationID,
	})
	if err != nil {
		return nil, err
	}

	result := CalculateCheckResult(*outcome)
	s.metrics.IncOutcome(string(result))
	span.SetAttributes(attribute.String("check.result", string(result)))

	if result == session.CheckResultMatchError {
		// Vendor could not complete the check; not the caller's fault and
		// not an attempt.
		return nil, dErrors.New(dErrors.CodeVendorFailure, "verification could not be completed")
	}

	if err := s.store.UpdateState(ctx, sessionID, session.StateDataReceived,
		session.Extra{CheckResult: &result},
		session.StateSessionCreated, session.StateDataReceived); err != nil {
		return nil, translateSessionErr(err)
	}

	res := &Result{CheckResult: result, Message: "success"}
	if result != session.CheckResultFullMatch {
		count, err := s.store.IncrementAttempt(ctx, sessionID)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record attempt")
		}
		res.AttemptCount = &count
	}

	if result == session.CheckResultPartialMatch {
		s.reportPartialMatch(ctx, person, correlationID, outcome)
	}

	s.emitAudit(ctx, events.AuditEvent{
		Event:           events.EventCheckCompleted,
		Timestamp:       s.now(),
		SessionID:       sess.ID.String(),
		ClientSessionID: sess.ClientSessionID,
		VendorUUID:      correlationID,
		Extensions:      map[string]string{"result": string(result)},
	})

	return res, nil
}

func (s *Service) ensureVendorUUID(ctx context.Context, sess *session.Session) (string, error) {
	if sess.VendorUUID != nil && *sess.VendorUUID != "" {
		return *sess.VendorUUID, nil
	}
	id := uuid.NewString()
	if err := s.store.AttachVendorUUID(ctx, sess.ID, id); err != nil {
		return "", err
	}
	return id, nil
}

// reportPartialMatch is fire-and-forget: a publish failure is logged, never
// surfaced to the verify caller.
func (s *Service) reportPartialMatch(ctx context.Context, person *session.PersonIdentity, correlationID string, outcome *Outcome) {
	rec := events.PartialMatchRecord{
		ItemNumber:       firstNonEmpty(outcome.ItemNumber, correlationID),
		TimeStamp:        s.now(),
		CICName:          person.FullName(),
		AccountName:      outcome.AccountName,
		AccountExists:    string(outcome.AccountExists),
		NameMatches:      string(outcome.NameMatches),
		SortCodeBankName: outcome.SortCodeBankName,
	}
	if err := s.publisher.PublishPartialMatch(ctx, rec); err != nil {
		s.logger.Warn("partial match report failed", "err", err, "itemNumber", rec.ItemNumber)
	}
}

func (s *Service) emitAudit(ctx context.Context, ev events.AuditEvent) {
	if err := s.publisher.PublishAudit(ctx, ev); err != nil {
		s.logger.Warn("audit publish failed", "event", string(ev.Event), "err", err)
	}
}

func requireState(sess *session.Session, allowed ...session.AuthSessionState) error {
	for _, st := range allowed {
		if sess.AuthSessionState == st {
			return nil
		}
	}
	return dErrors.Newf(dErrors.CodeUnauthorized,
		"session in state %s, expected %s", sess.AuthSessionState, statesList(allowed))
}

func statesList(states []session.AuthSessionState) string {
	out := ""
	for i, st := range states {
		if i > 0 {
			out += " or "
		}
		out += string(st)
	}
	return out
}

func translateSessionErr(err error) error {
	switch {
	case errors.Is(err, sentinel.ErrExpired):
		return dErrors.Wrap(err, dErrors.CodeUnauthorized, "session expired")
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.Wrap(err, dErrors.CodeUnauthorized, "session not found")
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.Wrap(err, dErrors.CodeUnauthorized, "ambiguous session lookup")
	case errors.Is(err, sentinel.ErrInvalidState):
		return dErrors.Wrap(err, dErrors.CodeUnauthorized, "session state changed")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "session store failure")
	}
}

func birthDate(p *session.PersonIdentity) string {
	if p.BirthDate == nil {
		return ""
	}
	return *p.BirthDate
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
