// Package experian implements account verification against the Experian
// Bank Wizard API, including the shared cached bearer token.
package experian

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"bankcri/internal/platform/config"
	"bankcri/internal/verification"
	"bankcri/internal/verification/metrics"
	dErrors "bankcri/pkg/domainerrors"
	"bankcri/pkg/sentinel"
)

const vendorName = "experian"

// personalDetailsScore is the decision-element score used for the match
// decision.
const personalDetailsScore = "Personal details"

// Warning/error taxonomy for decision-element response codes.
var responseCodeSeverity = map[string]string{
	"2":  "warning",
	"3":  "warning",
	"6":  "error",
	"7":  "error",
	"11": "error",
	"12": "error",
}

// Client calls the Bank Wizard verify endpoint using a cached bearer token.
type Client struct {
	cfg     config.Experian
	retry   config.Retry
	http    *http.Client
	tokens  TokenStore
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

func NewClient(cfg config.Experian, retry config.Retry, httpClient *http.Client, tokens TokenStore, m *metrics.Metrics, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		cfg:     cfg,
		retry:   retry,
		http:    httpClient,
		tokens:  tokens,
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
}

// WithClock overrides the client clock. Test support.
func (c *Client) WithClock(now func() time.Time) *Client {
	c.now = now
	return c
}

func (c *Client) Name() string { return vendorName }

// Verify runs one Bank Wizard check. The bearer token comes from the shared
// cache, refreshed when outside its validity window; a failed refresh falls
// back to the previous token in degraded mode when one exists.
func (c *Client) Verify(ctx context.Context, req verification.Request) (*verification.Outcome, error) {
	token, err := c.currentToken(ctx)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(c.buildEnvelope(req))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to build vendor payload")
	}

	started := c.now()
	defer func() { c.metrics.ObserveVendorLatency(vendorName, time.Since(started)) }()

	var resp verifyResponse
	op := func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
			strings.TrimSuffix(c.cfg.BaseURL, "/")+"/verify", bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+token)

		httpResp, err := c.http.Do(httpReq)
		if err != nil {
			return err
		}
		defer httpResp.Body.Close()
		c.metrics.IncVendorResponse(vendorName, strconv.Itoa(httpResp.StatusCode))

		switch {
		case httpResp.StatusCode == http.StatusOK:
			return json.NewDecoder(httpResp.Body).Decode(&resp)
		case httpResp.StatusCode == http.StatusTooManyRequests || httpResp.StatusCode >= 500:
			io.Copy(io.Discard, httpResp.Body)
			return fmt.Errorf("bank wizard returned %d", httpResp.StatusCode)
		default:
			io.Copy(io.Discard, httpResp.Body)
			return backoff.Permanent(fmt.Errorf("bank wizard returned %d", httpResp.StatusCode))
		}
	}

	notify := func(err error, next time.Duration) {
		c.metrics.IncRetry(vendorName)
		c.logger.Warn("retrying bank wizard verify", "err", err, "next", next)
	}

	if err := verification.Retry(ctx, c.retry, notify, op); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeVendorFailure, "account verification failed")
	}

	return c.reduce(&resp, req.CorrelationID), nil
}

// currentToken returns a usable bearer token: the cached one when inside its
// validity window, otherwise a fresh one. When refresh fails and a previous
// token exists the stale token is used and a degraded-mode warning logged;
// with no previous token the whole verify fails.
func (c *Client) currentToken(ctx context.Context) (string, error) {
	cached, err := c.tokens.Get(ctx)
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "vendor token cache failure")
	}
	if cached.Usable(c.now()) {
		return cached.AccessToken, nil
	}

	fresh, refreshErr := c.refreshToken(ctx)
	if refreshErr == nil {
		if err := c.tokens.Put(ctx, fresh); err != nil {
			// The token still works for this call; only the cache write failed.
			c.logger.Warn("vendor token cache write failed", "err", err)
		}
		c.metrics.IncTokenRefresh(vendorName, "success")
		return fresh.AccessToken, nil
	}

	if cached != nil && cached.AccessToken != "" {
		c.metrics.IncTokenRefresh(vendorName, "fallback")
		c.logger.Warn("vendor token refresh failed, using previous token in degraded mode",
			"err", refreshErr, "issuedAt", cached.IssuedAt)
		return cached.AccessToken, nil
	}

	c.metrics.IncTokenRefresh(vendorName, "failure")
	return "", dErrors.Wrap(refreshErr, dErrors.CodeVendorFailure, "vendor token generation failed")
}

type tokenRequest struct {
	Username     string `json:"username"`
	Password     string `json:"password"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	IssuedAt    int64  `json:"issued_at,string"`
	ExpiresIn   int    `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

func (c *Client) refreshToken(ctx context.Context) (*Token, error) {
	payload, err := json.Marshal(tokenRequest{
		Username:     c.cfg.Username,
		Password:     c.cfg.Password,
		ClientID:     c.cfg.ClientID,
		ClientSecret: c.cfg.ClientSecret,
	})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TokenURL, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()
	c.metrics.IncVendorResponse(vendorName, strconv.Itoa(httpResp.StatusCode))

	if httpResp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, httpResp.Body)
		return nil, fmt.Errorf("token endpoint returned %d", httpResp.StatusCode)
	}

	var resp tokenResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, err
	}
	if resp.AccessToken == "" {
		return nil, fmt.Errorf("token endpoint returned empty token")
	}

	issuedAt := c.now()
	if resp.IssuedAt > 0 {
		issuedAt = time.UnixMilli(resp.IssuedAt)
	}
	return &Token{
		AccessToken: resp.AccessToken,
		IssuedAt:    issuedAt,
		ExpiresIn:   resp.ExpiresIn,
		TokenType:   resp.TokenType,
	}, nil
}
