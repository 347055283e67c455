package session

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwe"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bankcri/internal/events"
	"bankcri/internal/jose"
	"bankcri/internal/kms"
	"bankcri/internal/platform/config"
	dErrors "bankcri/pkg/domainerrors"
)

const (
	testClientID    = "ipv-core"
	testRedirectURI = "https://client.example/callback"
)

type serviceFixture struct {
	service   *Service
	store     *InMemoryStore
	publisher *events.InMemoryPublisher
	clientKey jwk.Key
	rsaPub    *rsa.PublicKey
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()

	local := kms.NewLocal()
	_, err := local.AddSigningKey("vc-signing")
	require.NoError(t, err)
	rsaPub, err := local.AddDecryptionKey("session-decryption")
	require.NoError(t, err)
	adapter := jose.NewAdapter(local, "vc-signing", "alias/vc-signing", "session-decryption")

	clientPriv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	signKey, err := jwk.FromRaw(clientPriv)
	require.NoError(t, err)
	require.NoError(t, signKey.Set(jwk.KeyIDKey, "client-key-1"))

	pubKey, err := jwk.FromRaw(&clientPriv.PublicKey)
	require.NoError(t, err)
	require.NoError(t, pubKey.Set(jwk.KeyIDKey, "client-key-1"))
	require.NoError(t, pubKey.Set(jwk.KeyUsageKey, string(jwk.ForSignature)))
	require.NoError(t, pubKey.Set(jwk.AlgorithmKey, jwa.ES256))
	set := jwk.NewSet()
	require.NoError(t, set.AddKey(pubKey))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(set)
	}))
	t.Cleanup(srv.Close)

	store := NewInMemoryStore()
	publisher := events.NewInMemoryPublisher()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clients := map[string]config.Client{
		testClientID: {JWKSBaseURL: srv.URL, RedirectURI: testRedirectURI},
	}
	service := NewService(store, adapter, publisher, clients, time.Hour, logger)

	return &serviceFixture{
		service:   service,
		store:     store,
		publisher: publisher,
		clientKey: signKey,
		rsaPub:    rsaPub,
	}
}

func defaultClaims() map[string]any {
	return map[string]any{
		"sub":                     "urn:fdc:gov.uk:2022:subject-1",
		"iss":                     testClientID,
		"client_id":               testClientID,
		"redirect_uri":            testRedirectURI,
		"state":                   "state-1",
		"govuk_signin_journey_id": "journey-1",
		"exp":                     time.Now().Add(time.Hour).Unix(),
		"shared_claims": map[string]any{
			"name": []map[string]any{{
				"nameParts": []map[string]string{
					{"type": "GivenName", "value": "Alice"},
					{"type": "FamilyName", "value": "Archer"},
				},
			}},
			"birthDate": []map[string]string{{"value": "1990-01-01"}},
		},
	}
}

func (f *serviceFixture) requestObject(t *testing.T, claims map[string]any) string {
	t.Helper()
	payload, err := json.Marshal(claims)
	require.NoError(t, err)

	signed, err := jws.Sign(payload, jws.WithKey(jwa.ES256, f.clientKey))
	require.NoError(t, err)

	encrypted, err := jwe.Encrypt(signed,
		jwe.WithKey(jwa.RSA_OAEP, f.rsaPub),
		jwe.WithContentEncryption(jwa.A256GCM))
	require.NoError(t, err)
	return string(encrypted)
}

func Test_CreateSession(t *testing.T) {
	f := newServiceFixture(t)

	resp, err := f.service.CreateSession(context.Background(), CreateRequest{
		ClientID:        testClientID,
		Request:         f.requestObject(t, defaultClaims()),
		ClientIPAddress: "203.0.113.10",
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.SessionID)
	assert.Equal(t, "state-1", resp.State)

	id, err := uuid.Parse(resp.SessionID)
	require.NoError(t, err)

	sess, err := f.store.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StateSessionCreated, sess.AuthSessionState)
	assert.Equal(t, testClientID, sess.ClientID)
	assert.Equal(t, "journey-1", sess.ClientSessionID)
	assert.Equal(t, testRedirectURI, sess.RedirectURI)
	assert.Equal(t, "urn:fdc:gov.uk:2022:subject-1", sess.Subject)
	assert.Equal(t, "203.0.113.10", sess.ClientIPAddress)

	person, err := f.store.GetPersonIdentity(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "Alice Archer", person.FullName())
	require.NotNil(t, person.BirthDate)
	assert.Equal(t, "1990-01-01", *person.BirthDate)

	audits := f.publisher.AuditEvents()
	require.Len(t, audits, 1)
	assert.Equal(t, events.EventSessionCreated, audits[0].Event)
}

func Test_CreateSession_UnknownClient(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.service.CreateSession(context.Background(), CreateRequest{
		ClientID: "who-dis",
		Request:  f.requestObject(t, defaultClaims()),
	})
	require.ErrorIs(t, err, dErrors.New(dErrors.CodeUnauthorized, "unknown client"))
}

func Test_CreateSession_GarbageRequestObject(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.service.CreateSession(context.Background(), CreateRequest{
		ClientID: testClientID,
		Request:  "not.a.jwe",
	})
	require.Error(t, err)
	assert.Equal(t, dErrors.CodeUnauthorized, dErrors.CodeOf(err))
}

func Test_CreateSession_WrongSigningKey(t *testing.T) {
	f := newServiceFixture(t)

	rogue, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	rogueKey, err := jwk.FromRaw(rogue)
	require.NoError(t, err)
	require.NoError(t, rogueKey.Set(jwk.KeyIDKey, "client-key-1"))
	f.clientKey = rogueKey

	_, err = f.service.CreateSession(context.Background(), CreateRequest{
		ClientID: testClientID,
		Request:  f.requestObject(t, defaultClaims()),
	})
	require.ErrorIs(t, err, dErrors.New(dErrors.CodeUnauthorized, "invalid session request"))
}

func Test_CreateSession_RedirectURIMismatch(t *testing.T) {
	f := newServiceFixture(t)
	claims := defaultClaims()
	claims["redirect_uri"] = "https://evil.example/cb"

	_, err := f.service.CreateSession(context.Background(), CreateRequest{
		ClientID: testClientID,
		Request:  f.requestObject(t, claims),
	})
	require.ErrorIs(t, err, dErrors.New(dErrors.CodeUnauthorized, "redirect URI not registered for client"))
}

func Test_CreateSession_ExpiredRequest(t *testing.T) {
	f := newServiceFixture(t)
	claims := defaultClaims()
	claims["exp"] = time.Now().Add(-time.Minute).Unix()

	_, err := f.service.CreateSession(context.Background(), CreateRequest{
		ClientID: testClientID,
		Request:  f.requestObject(t, claims),
	})
	require.ErrorIs(t, err, dErrors.New(dErrors.CodeUnauthorized, "session request expired"))
}

func Test_CreateSession_MissingNameParts(t *testing.T) {
	f := newServiceFixture(t)
	claims := defaultClaims()
	claims["shared_claims"] = map[string]any{}

	_, err := f.service.CreateSession(context.Background(), CreateRequest{
		ClientID: testClientID,
		Request:  f.requestObject(t, claims),
	})
	require.ErrorIs(t, err, dErrors.New(dErrors.CodeBadRequest, "session request missing name parts"))
}

func Test_Abort(t *testing.T) {
	f := newServiceFixture(t)

	resp, err := f.service.CreateSession(context.Background(), CreateRequest{
		ClientID: testClientID,
		Request:  f.requestObject(t, defaultClaims()),
	})
	require.NoError(t, err)
	id := uuid.MustParse(resp.SessionID)

	require.NoError(t, f.service.Abort(context.Background(), id))

	sess, err := f.store.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StateAborted, sess.AuthSessionState)

	// Aborting twice is rejected; the state is terminal.
	err = f.service.Abort(context.Background(), id)
	require.Error(t, err)
	assert.Equal(t, dErrors.CodeUnauthorized, dErrors.CodeOf(err))
}
