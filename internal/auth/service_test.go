package auth

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bankcri/internal/session"
	dErrors "bankcri/pkg/domainerrors"
)

func newAuthFixture(t *testing.T, state session.AuthSessionState) (*Service, *session.InMemoryStore, uuid.UUID) {
	t.Helper()
	store := session.NewInMemoryStore()
	svc := NewService(store, jwtService, 10*time.Minute, time.Hour)

	id := uuid.New()
	now := time.Now()
	require.NoError(t, store.Create(context.Background(), &session.Session{
		ID:               id,
		ClientID:         clientID,
		AuthSessionState: state,
		CreatedDate:      now,
		ExpiryDate:       now.Add(time.Hour),
	}))
	return svc, store, id
}

func Test_IssueAuthorizationCode(t *testing.T) {
	svc, store, id := newAuthFixture(t, session.StateDataReceived)

	code, err := svc.IssueAuthorizationCode(context.Background(), id)
	require.NoError(t, err)
	require.NotEmpty(t, code)

	sess, err := store.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, session.StateAuthCodeIssued, sess.AuthSessionState)
	require.NotNil(t, sess.AuthorizationCode)
	assert.Equal(t, code, *sess.AuthorizationCode)
	require.NotNil(t, sess.AuthorizationCodeExpiry)
	assert.WithinDuration(t, time.Now().Add(10*time.Minute), *sess.AuthorizationCodeExpiry, time.Minute)
}

func Test_IssueAuthorizationCode_WrongState(t *testing.T) {
	svc, _, id := newAuthFixture(t, session.StateSessionCreated)

	_, err := svc.IssueAuthorizationCode(context.Background(), id)
	require.Error(t, err)
	assert.Equal(t, dErrors.CodeUnauthorized, dErrors.CodeOf(err))
}

func Test_IssueAuthorizationCode_UnknownSession(t *testing.T) {
	svc, _, _ := newAuthFixture(t, session.StateDataReceived)

	_, err := svc.IssueAuthorizationCode(context.Background(), uuid.New())
	require.ErrorIs(t, err, dErrors.New(dErrors.CodeUnauthorized, "session not found"))
}

func Test_ExchangeCodeForToken(t *testing.T) {
	svc, store, id := newAuthFixture(t, session.StateDataReceived)

	code, err := svc.IssueAuthorizationCode(context.Background(), id)
	require.NoError(t, err)

	resp, err := svc.ExchangeCodeForToken(context.Background(), code)
	require.NoError(t, err)
	assert.Equal(t, "Bearer", resp.TokenType)
	assert.Equal(t, int64(3600), resp.ExpiresIn)

	gotID, err := jwtService.ExtractSessionID(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, id, gotID)

	sess, err := store.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, session.StateAccessTokenIssued, sess.AuthSessionState)
	require.NotNil(t, sess.AccessTokenExpiry)
}

func Test_ExchangeCodeForToken_SingleUse(t *testing.T) {
	svc, _, id := newAuthFixture(t, session.StateDataReceived)

	code, err := svc.IssueAuthorizationCode(context.Background(), id)
	require.NoError(t, err)

	_, err = svc.ExchangeCodeForToken(context.Background(), code)
	require.NoError(t, err)

	// Second use finds the session past AUTH_CODE_ISSUED.
	_, err = svc.ExchangeCodeForToken(context.Background(), code)
	require.Error(t, err)
	assert.Equal(t, dErrors.CodeUnauthorized, dErrors.CodeOf(err))
}

func Test_ExchangeCodeForToken_UnknownCode(t *testing.T) {
	svc, _, _ := newAuthFixture(t, session.StateDataReceived)

	_, err := svc.ExchangeCodeForToken(context.Background(), "no-such-code")
	require.ErrorIs(t, err, dErrors.New(dErrors.CodeUnauthorized, "session not found"))
}

func Test_ExchangeCodeForToken_ExpiredCode(t *testing.T) {
	svc, _, id := newAuthFixture(t, session.StateDataReceived)

	code, err := svc.IssueAuthorizationCode(context.Background(), id)
	require.NoError(t, err)

	svc.WithClock(func() time.Time { return time.Now().Add(11 * time.Minute) })
	_, err = svc.ExchangeCodeForToken(context.Background(), code)
	require.ErrorIs(t, err, dErrors.New(dErrors.CodeUnauthorized, "authorization code expired"))
}
