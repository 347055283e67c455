package experian

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bankcri/internal/platform/config"
	"bankcri/internal/verification"
	dErrors "bankcri/pkg/domainerrors"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func tokenOK(w http.ResponseWriter) {
	_ = json.NewEncoder(w).Encode(map[string]any{
		"access_token": "bw-token",
		"issued_at":    "0",
		"expires_in":   1799,
		"token_type":   "BearerToken",
	})
}

func scoredResponse(score int) map[string]any {
	return map[string]any{
		"responseHeader": map[string]string{"expRequestId": "exp-1", "responseCode": "R0201"},
		"clientResponsePayload": map[string]any{
			"decisionElements": []map[string]any{{
				"applicantId": "APPLICANT_1",
				"scores": []map[string]any{
					{"name": "Personal details", "score": score},
				},
				"matchedName": "MR A ARCHER",
			}},
		},
	}
}

type fixture struct {
	client      *Client
	tokens      *InMemoryTokenStore
	tokenCalls  atomic.Int32
	verifyCalls atomic.Int32
}

func newFixture(t *testing.T, tokenHandler, verifyHandler http.HandlerFunc) *fixture {
	t.Helper()
	f := &fixture{tokens: NewInMemoryTokenStore()}

	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.tokenCalls.Add(1)
		tokenHandler(w, r)
	}))
	t.Cleanup(tokenSrv.Close)
	verifySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.verifyCalls.Add(1)
		verifyHandler(w, r)
	}))
	t.Cleanup(verifySrv.Close)

	cfg := config.Experian{
		BaseURL:        verifySrv.URL,
		TokenURL:       tokenSrv.URL,
		Username:       "user",
		Password:       "pass",
		ClientID:       "client",
		ClientSecret:   "secret",
		ScoreThreshold: 40,
	}
	retry := config.Retry{MaxRetries: 3, BaseDelay: time.Millisecond}
	f.client = NewClient(cfg, retry, verifySrv.Client(), f.tokens, nil, testLogger())
	return f
}

func testRequest() verification.Request {
	return verification.Request{
		Name:          "Alice Archer",
		BirthDate:     "1990-01-01",
		SortCode:      "123456",
		AccountNumber: "01234567",
		CorrelationID: "corr-1",
	}
}

func Test_Verify_ScoreAboveThreshold(t *testing.T) {
	f := newFixture(t,
		func(w http.ResponseWriter, _ *http.Request) { tokenOK(w) },
		func(w http.ResponseWriter, _ *http.Request) {
			_ = json.NewEncoder(w).Encode(scoredResponse(90))
		})

	outcome, err := f.client.Verify(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, verification.MatchYes, outcome.NameMatches)
	assert.Equal(t, verification.MatchYes, outcome.AccountExists)
	assert.Equal(t, "MR A ARCHER", outcome.AccountName)
	assert.Equal(t, "exp-1", outcome.ItemNumber)
}

func Test_Verify_ScoreBelowThreshold(t *testing.T) {
	f := newFixture(t,
		func(w http.ResponseWriter, _ *http.Request) { tokenOK(w) },
		func(w http.ResponseWriter, _ *http.Request) {
			_ = json.NewEncoder(w).Encode(scoredResponse(10))
		})

	outcome, err := f.client.Verify(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, verification.MatchNo, outcome.NameMatches)
	assert.Equal(t, verification.MatchYes, outcome.AccountExists)
}

func Test_Verify_MissingDecisionBlockIsIndeterminate(t *testing.T) {
	f := newFixture(t,
		func(w http.ResponseWriter, _ *http.Request) { tokenOK(w) },
		func(w http.ResponseWriter, _ *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"responseHeader": map[string]string{"expRequestId": "exp-1"},
			})
		})

	outcome, err := f.client.Verify(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, verification.MatchIndeterminate, outcome.NameMatches)
	assert.Equal(t, verification.MatchIndeterminate, outcome.AccountExists)
}

func Test_Verify_ErrorResponseCodeMarksOutcome(t *testing.T) {
	f := newFixture(t,
		func(w http.ResponseWriter, _ *http.Request) { tokenOK(w) },
		func(w http.ResponseWriter, _ *http.Request) {
			body := scoredResponse(90)
			body["clientResponsePayload"].(map[string]any)["decisionElements"].([]map[string]any)[0]["warningsErrors"] = []map[string]any{
				{"responseType": "E", "responseCode": "7", "responseMessage": "account closed"},
			}
			_ = json.NewEncoder(w).Encode(body)
		})

	outcome, err := f.client.Verify(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, verification.MatchError, outcome.NameMatches)
}

func Test_Verify_WarningCodeDoesNotMarkOutcome(t *testing.T) {
	f := newFixture(t,
		func(w http.ResponseWriter, _ *http.Request) { tokenOK(w) },
		func(w http.ResponseWriter, _ *http.Request) {
			body := scoredResponse(90)
			body["clientResponsePayload"].(map[string]any)["decisionElements"].([]map[string]any)[0]["warningsErrors"] = []map[string]any{
				{"responseType": "W", "responseCode": "2", "responseMessage": "name transposed"},
			}
			_ = json.NewEncoder(w).Encode(body)
		})

	outcome, err := f.client.Verify(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, verification.MatchYes, outcome.NameMatches)
}

func Test_TokenReusedInsideValidityWindow(t *testing.T) {
	f := newFixture(t,
		func(w http.ResponseWriter, _ *http.Request) { tokenOK(w) },
		func(w http.ResponseWriter, _ *http.Request) {
			_ = json.NewEncoder(w).Encode(scoredResponse(90))
		})

	issued := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, f.tokens.Put(context.Background(), &Token{
		AccessToken: "cached-token",
		IssuedAt:    issued,
	}))

	f.client.WithClock(func() time.Time { return issued.Add(24 * time.Minute) })
	_, err := f.client.Verify(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Zero(t, f.tokenCalls.Load(), "token inside its window must be reused")
}

func Test_TokenRefreshedOutsideValidityWindow(t *testing.T) {
	f := newFixture(t,
		func(w http.ResponseWriter, _ *http.Request) { tokenOK(w) },
		func(w http.ResponseWriter, _ *http.Request) {
			_ = json.NewEncoder(w).Encode(scoredResponse(90))
		})

	issued := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, f.tokens.Put(context.Background(), &Token{
		AccessToken: "cached-token",
		IssuedAt:    issued,
	}))

	f.client.WithClock(func() time.Time { return issued.Add(26 * time.Minute) })
	_, err := f.client.Verify(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, int32(1), f.tokenCalls.Load())

	stored, err := f.tokens.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "bw-token", stored.AccessToken)
}

func Test_TokenRefreshFailureFallsBackToStaleToken(t *testing.T) {
	var gotAuth string
	f := newFixture(t,
		func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		},
		func(w http.ResponseWriter, r *http.Request) {
			gotAuth = r.Header.Get("Authorization")
			_ = json.NewEncoder(w).Encode(scoredResponse(90))
		})

	issued := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, f.tokens.Put(context.Background(), &Token{
		AccessToken: "stale-token",
		IssuedAt:    issued,
	}))

	f.client.WithClock(func() time.Time { return issued.Add(time.Hour) })
	_, err := f.client.Verify(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "Bearer stale-token", gotAuth)
}

func Test_TokenRefreshFailureWithoutPreviousTokenFails(t *testing.T) {
	f := newFixture(t,
		func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		},
		func(w http.ResponseWriter, _ *http.Request) {
			_ = json.NewEncoder(w).Encode(scoredResponse(90))
		})

	_, err := f.client.Verify(context.Background(), testRequest())
	require.Error(t, err)
	assert.Equal(t, dErrors.CodeVendorFailure, dErrors.CodeOf(err))
	assert.Zero(t, f.verifyCalls.Load())
}

func Test_Verify_RetriesOn5xx(t *testing.T) {
	var calls atomic.Int32
	g := newFixture(t,
		func(w http.ResponseWriter, _ *http.Request) { tokenOK(w) },
		func(w http.ResponseWriter, _ *http.Request) {
			if calls.Add(1) == 1 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			_ = json.NewEncoder(w).Encode(scoredResponse(90))
		})

	outcome, err := g.client.Verify(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, verification.MatchYes, outcome.NameMatches)
	assert.Equal(t, int32(2), calls.Load())
}

func Test_SplitName(t *testing.T) {
	tests := []struct {
		full, first, surname string
	}{
		{"Alice Archer", "Alice", "Archer"},
		{"Alice Jane Archer", "Alice Jane", "Archer"},
		{"Archer", "Archer", ""},
	}
	for _, tc := range tests {
		first, surname := splitName(tc.full)
		assert.Equal(t, tc.first, first)
		assert.Equal(t, tc.surname, surname)
	}
}
