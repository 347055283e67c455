// Package credential assembles and signs the Verifiable Credential once a
// session reaches the access-token-issued state.
package credential

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"bankcri/internal/events"
	"bankcri/internal/jose"
	"bankcri/internal/platform/config"
	"bankcri/internal/session"
	dErrors "bankcri/pkg/domainerrors"
	"bankcri/pkg/sentinel"
)

// Signer is the subset of the JOSE adapter the issuer needs.
type Signer interface {
	Sign(ctx context.Context, payload []byte) (string, error)
}

// Issuer drives the issue-credential transition of the state machine.
type Issuer struct {
	store     session.Store
	signer    Signer
	publisher events.Publisher
	logger    *slog.Logger
	vendor    config.Vendor
	issuer    string
	now       func() time.Time
}

func NewIssuer(store session.Store, signer Signer, publisher events.Publisher, logger *slog.Logger, vendor config.Vendor, issuer string) *Issuer {
	return &Issuer{
		store:     store,
		signer:    signer,
		publisher: publisher,
		logger:    logger,
		vendor:    vendor,
		issuer:    issuer,
		now:       time.Now,
	}
}

// WithClock overrides the issuer clock. Test support.
func (i *Issuer) WithClock(now func() time.Time) *Issuer {
	i.now = now
	return i
}

// Issue builds and signs the Verifiable Credential for the session, then
// advances it to VC_ISSUED. The session must be in ACCESS_TOKEN_ISSUED and
// the person identity must carry name parts, sort code and account number;
// anything missing is a bad request. A signing failure is a server fault and
// the caller never receives a partially built credential.
func (i *Issuer) Issue(ctx context.Context, sessionID uuid.UUID) (string, error) {
	sess, err := i.store.GetByID(ctx, sessionID)
	if err != nil {
		return "", translateSessionErr(err)
	}
	if sess.AuthSessionState != session.StateAccessTokenIssued {
		return "", dErrors.Newf(dErrors.CodeUnauthorized,
			"session in state %s, expected %s", sess.AuthSessionState, session.StateAccessTokenIssued)
	}

	person, err := i.store.GetPersonIdentity(ctx, sessionID)
	if err != nil {
		return "", translateSessionErr(err)
	}
	if len(person.NameParts) == 0 || person.SortCode == "" || person.AccountNumber == "" {
		return "", dErrors.New(dErrors.CodeBadRequest, "person identity is missing mandatory fields")
	}

	vc := Build(BuildParams{
		Vendor:        i.vendor,
		NameParts:     person.NameParts,
		BirthDate:     person.BirthDate,
		SortCode:      person.SortCode,
		AccountNumber: person.AccountNumber,
		CheckResult:   sess.CheckResult,
		Txn:           txn(sess),
	})

	payload := BuildPayload(sess.Subject, i.issuer, "urn:uuid:"+uuid.NewString(), i.now(), vc)
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to serialize credential")
	}

	signed, err := i.signer.Sign(ctx, raw)
	if err != nil {
		if errors.Is(err, jose.ErrSigningFailed) {
			return "", dErrors.Wrap(err, dErrors.CodeCryptoFailure, "credential signing failed")
		}
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "credential signing failed")
	}

	if err := i.store.UpdateState(ctx, sessionID, session.StateVCIssued,
		session.Extra{}, session.StateAccessTokenIssued); err != nil {
		return "", translateSessionErr(err)
	}

	if err := i.publisher.PublishAudit(ctx, events.AuditEvent{
		Event:           events.EventCredentialIssued,
		Timestamp:       i.now(),
		SessionID:       sess.ID.String(),
		ClientSessionID: sess.ClientSessionID,
		VendorUUID:      txn(sess),
	}); err != nil {
		i.logger.Warn("audit publish failed", "event", string(events.EventCredentialIssued), "err", err)
	}

	return signed, nil
}

func txn(sess *session.Session) string {
	if sess.VendorUUID != nil {
		return *sess.VendorUUID
	}
	return ""
}

func translateSessionErr(err error) error {
	switch {
	case errors.Is(err, sentinel.ErrExpired):
		return dErrors.Wrap(err, dErrors.CodeUnauthorized, "session expired")
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.Wrap(err, dErrors.CodeUnauthorized, "session not found")
	case errors.Is(err, sentinel.ErrInvalidState):
		return dErrors.Wrap(err, dErrors.CodeUnauthorized, "session state changed")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "session store failure")
	}
}
