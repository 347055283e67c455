// Package hmrc implements account verification against the HMRC
// Confirmation of Payee API.
package hmrc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"bankcri/internal/platform/config"
	"bankcri/internal/verification"
	"bankcri/internal/verification/metrics"
	dErrors "bankcri/pkg/domainerrors"
)

const vendorName = "hmrc"

// Client calls the Confirmation of Payee verify endpoint. Tokens are
// client-credentials exchanges fetched per call; this client caches nothing.
type Client struct {
	cfg     config.HMRC
	retry   config.Retry
	http    *http.Client
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewClient(cfg config.HMRC, retry config.Retry, httpClient *http.Client, m *metrics.Metrics, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{cfg: cfg, retry: retry, http: httpClient, metrics: m, logger: logger}
}

func (c *Client) Name() string { return vendorName }

type verifyRequest struct {
	Account struct {
		AccountNumber string `json:"accountNumber"`
		SortCode      string `json:"sortCode"`
	} `json:"account"`
	Subject struct {
		Name string `json:"name"`
	} `json:"subject"`
}

type verifyResponse struct {
	NameMatches      string `json:"nameMatches"`
	AccountExists    string `json:"accountExists"`
	AccountName      string `json:"accountName"`
	SortCodeBankName string `json:"sortCodeBankName"`
	Iso18245MCC      string `json:"iso18245MerchantCategoryCode"`
}

// Verify runs one Confirmation of Payee check. HTTP 429 and 5xx responses
// are retried with exponential backoff; any other failure or retry
// exhaustion surfaces as a vendor failure.
func (c *Client) Verify(ctx context.Context, req verification.Request) (*verification.Outcome, error) {
	token, err := c.fetchToken(ctx)
	if err != nil {
		return nil, err
	}

	var body verifyRequest
	body.Account.AccountNumber = req.AccountNumber
	body.Account.SortCode = req.SortCode
	body.Subject.Name = req.Name
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to build vendor payload")
	}

	started := time.Now()
	defer func() { c.metrics.ObserveVendorLatency(vendorName, time.Since(started)) }()

	var resp verifyResponse
	op := func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
			strings.TrimSuffix(c.cfg.BaseURL, "/")+"/verify/personal", bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+token)
		httpReq.Header.Set("X-Correlation-Id", req.CorrelationID)

		httpResp, err := c.http.Do(httpReq)
		if err != nil {
			return err
		}
		defer httpResp.Body.Close()
		c.metrics.IncVendorResponse(vendorName, strconv.Itoa(httpResp.StatusCode))

		switch {
		case httpResp.StatusCode == http.StatusOK:
			return json.NewDecoder(httpResp.Body).Decode(&resp)
		case retryableStatus(httpResp.StatusCode):
			io.Copy(io.Discard, httpResp.Body)
			return fmt.Errorf("cop verify returned %d", httpResp.StatusCode)
		default:
			io.Copy(io.Discard, httpResp.Body)
			return backoff.Permanent(fmt.Errorf("cop verify returned %d", httpResp.StatusCode))
		}
	}

	notify := func(err error, next time.Duration) {
		c.metrics.IncRetry(vendorName)
		c.logger.Warn("retrying cop verify", "err", err, "next", next)
	}

	if err := verification.Retry(ctx, c.retry, notify, op); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeVendorFailure, "account verification failed")
	}

	return &verification.Outcome{
		NameMatches:      verification.MatchValue(resp.NameMatches),
		AccountExists:    verification.MatchValue(resp.AccountExists),
		AccountName:      resp.AccountName,
		SortCodeBankName: resp.SortCodeBankName,
		ItemNumber:       req.CorrelationID,
	}, nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// fetchToken exchanges client credentials for a bearer token. A 5xx is
// retried exactly once; everything else fails fast.
func (c *Client) fetchToken(ctx context.Context) (string, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			c.metrics.IncRetry(vendorName)
			select {
			case <-time.After(c.retry.BaseDelay):
			case <-ctx.Done():
				return "", dErrors.Wrap(ctx.Err(), dErrors.CodeVendorFailure, "token generation cancelled")
			}
		}

		token, retryable, err := c.requestToken(ctx)
		if err == nil {
			return token, nil
		}
		lastErr = err
		if !retryable {
			break
		}
	}
	return "", dErrors.Wrap(lastErr, dErrors.CodeVendorFailure, "token generation failed")
}

func (c *Client) requestToken(ctx context.Context) (token string, retryable bool, err error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", c.cfg.ClientID)
	form.Set("client_secret", c.cfg.ClientSecret)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TokenURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", false, err
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return "", true, err
	}
	defer httpResp.Body.Close()
	c.metrics.IncVendorResponse(vendorName, strconv.Itoa(httpResp.StatusCode))

	if httpResp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, httpResp.Body)
		return "", httpResp.StatusCode >= 500, fmt.Errorf("token endpoint returned %d", httpResp.StatusCode)
	}

	var resp tokenResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return "", false, err
	}
	if resp.AccessToken == "" {
		return "", false, fmt.Errorf("token endpoint returned empty token")
	}
	return resp.AccessToken, false, nil
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}
