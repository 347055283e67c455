package credential

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bankcri/internal/events"
	"bankcri/internal/jose"
	"bankcri/internal/platform/config"
	"bankcri/internal/session"
	dErrors "bankcri/pkg/domainerrors"
)

// fakeSigner base64-free: returns the payload wrapped in a marker so tests
// can inspect what was signed.
type fakeSigner struct {
	err    error
	signed []byte
	calls  int
}

func (f *fakeSigner) Sign(_ context.Context, payload []byte) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	f.signed = payload
	return "header.payload.signature", nil
}

type issuerFixture struct {
	store     *session.InMemoryStore
	signer    *fakeSigner
	publisher *events.InMemoryPublisher
	issuer    *Issuer
	sessionID uuid.UUID
}

func newIssuerFixture(t *testing.T, state session.AuthSessionState, result session.CheckResult) *issuerFixture {
	t.Helper()
	store := session.NewInMemoryStore()
	signer := &fakeSigner{}
	publisher := events.NewInMemoryPublisher()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	sessionID := uuid.New()
	now := time.Now()
	vendorUUID := "txn-77"
	require.NoError(t, store.Create(context.Background(), &session.Session{
		ID:               sessionID,
		ClientID:         "test-client",
		Subject:          "subject-1",
		AuthSessionState: state,
		CheckResult:      result,
		VendorUUID:       &vendorUUID,
		CreatedDate:      now,
		ExpiryDate:       now.Add(time.Hour),
	}))
	require.NoError(t, store.CreatePersonIdentity(context.Background(), &session.PersonIdentity{
		SessionID: sessionID,
		NameParts: []session.NamePart{
			{Type: session.NamePartGiven, Value: "Alice"},
			{Type: session.NamePartFamily, Value: "Archer"},
		},
		SortCode:      "123456",
		AccountNumber: "01234567",
		CreatedDate:   now,
		ExpiryDate:    now.Add(time.Hour),
	}))

	return &issuerFixture{
		store:     store,
		signer:    signer,
		publisher: publisher,
		issuer:    NewIssuer(store, signer, publisher, logger, config.VendorHMRC, "issuer-1"),
		sessionID: sessionID,
	}
}

func Test_Issue_FullMatch(t *testing.T) {
	f := newIssuerFixture(t, session.StateAccessTokenIssued, session.CheckResultFullMatch)

	jws, err := f.issuer.Issue(context.Background(), f.sessionID)
	require.NoError(t, err)
	assert.Equal(t, "header.payload.signature", jws)

	var payload Payload
	require.NoError(t, json.Unmarshal(f.signer.signed, &payload))
	assert.Equal(t, "subject-1", payload.Sub)
	assert.Equal(t, "issuer-1", payload.Iss)
	assert.Contains(t, payload.JTI, "urn:uuid:")
	require.Len(t, payload.VC.Evidence, 1)
	assert.Equal(t, 2, payload.VC.Evidence[0].ValidityScore)
	assert.Equal(t, "txn-77", payload.VC.Evidence[0].Txn)

	sess, err := f.store.GetByID(context.Background(), f.sessionID)
	require.NoError(t, err)
	assert.Equal(t, session.StateVCIssued, sess.AuthSessionState)

	audits := f.publisher.AuditEvents()
	require.Len(t, audits, 1)
	assert.Equal(t, events.EventCredentialIssued, audits[0].Event)
}

func Test_Issue_NonFullMatchCarriesContraIndicator(t *testing.T) {
	f := newIssuerFixture(t, session.StateAccessTokenIssued, session.CheckResultNoMatch)

	_, err := f.issuer.Issue(context.Background(), f.sessionID)
	require.NoError(t, err)

	var payload Payload
	require.NoError(t, json.Unmarshal(f.signer.signed, &payload))
	require.Len(t, payload.VC.Evidence, 1)
	assert.Equal(t, 0, payload.VC.Evidence[0].ValidityScore)
	assert.Equal(t, []string{ContraIndicatorFailedDataCheck}, payload.VC.Evidence[0].CI)
}

func Test_Issue_WrongStateRejectedWithoutSigning(t *testing.T) {
	f := newIssuerFixture(t, session.StateDataReceived, session.CheckResultFullMatch)

	_, err := f.issuer.Issue(context.Background(), f.sessionID)
	require.Error(t, err)
	assert.Equal(t, dErrors.CodeUnauthorized, dErrors.CodeOf(err))
	assert.Contains(t, dErrors.MessageOf(err), string(session.StateDataReceived))
	assert.Contains(t, dErrors.MessageOf(err), string(session.StateAccessTokenIssued))
	assert.Zero(t, f.signer.calls)
}

func Test_Issue_SigningFailureIsServerFault(t *testing.T) {
	f := newIssuerFixture(t, session.StateAccessTokenIssued, session.CheckResultFullMatch)
	f.signer.err = jose.ErrSigningFailed

	_, err := f.issuer.Issue(context.Background(), f.sessionID)
	require.Error(t, err)
	assert.Equal(t, dErrors.CodeCryptoFailure, dErrors.CodeOf(err))

	// No partial transition on failure.
	sess, err := f.store.GetByID(context.Background(), f.sessionID)
	require.NoError(t, err)
	assert.Equal(t, session.StateAccessTokenIssued, sess.AuthSessionState)
}

func Test_Issue_MissingAccountDetailsIsBadRequest(t *testing.T) {
	f := newIssuerFixture(t, session.StateAccessTokenIssued, session.CheckResultFullMatch)
	require.NoError(t, f.store.AttachAccountDetails(context.Background(), f.sessionID, "", ""))

	_, err := f.issuer.Issue(context.Background(), f.sessionID)
	require.ErrorIs(t, err, dErrors.New(dErrors.CodeBadRequest, "person identity is missing mandatory fields"))
}

func Test_Issue_UnknownSession(t *testing.T) {
	f := newIssuerFixture(t, session.StateAccessTokenIssued, session.CheckResultFullMatch)

	_, err := f.issuer.Issue(context.Background(), uuid.New())
	require.ErrorIs(t, err, dErrors.New(dErrors.CodeUnauthorized, "session not found"))
}
