package httptransport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"bankcri/internal/auth"
	"bankcri/internal/credential"
	"bankcri/internal/session"
	"bankcri/internal/verification"
	dErrors "bankcri/pkg/domainerrors"
)

// HealthChecker reports readiness of a downstream dependency.
type HealthChecker func(ctx context.Context) error

// Handler holds the domain services the routes delegate to.
type Handler struct {
	sessions     *session.Service
	verification *verification.Service
	auth         *auth.Service
	issuer       *credential.Issuer
	health       map[string]HealthChecker
	logger       *slog.Logger
}

func NewHandler(sessions *session.Service, verificationSvc *verification.Service, authSvc *auth.Service, issuer *credential.Issuer, health map[string]HealthChecker, logger *slog.Logger) *Handler {
	return &Handler{
		sessions:     sessions,
		verification: verificationSvc,
		auth:         authSvc,
		issuer:       issuer,
		health:       health,
		logger:       logger,
	}
}

func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req session.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, dErrors.New(dErrors.CodeBadRequest, "invalid JSON body"))
		return
	}
	req.ClientIPAddress = r.RemoteAddr

	resp, err := h.sessions.CreateSession(r.Context(), req)
	if err != nil {
		h.logFailure(r, "create session", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

type checkRequest struct {
	SessionID     string `json:"session_id"`
	SortCode      string `json:"sort_code"`
	AccountNumber string `json:"account_number"`
}

type checkResponse struct {
	Result       string `json:"result"`
	Message      string `json:"message"`
	AttemptCount *int   `json:"attemptCount,omitempty"`
}

func (h *Handler) handleCheck(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, dErrors.New(dErrors.CodeBadRequest, "invalid JSON body"))
		return
	}
	sessionID, err := uuid.Parse(req.SessionID)
	if err != nil {
		writeError(w, dErrors.New(dErrors.CodeBadRequest, "invalid session id"))
		return
	}
	if req.SortCode == "" || req.AccountNumber == "" {
		writeError(w, dErrors.New(dErrors.CodeBadRequest, "sort code and account number are mandatory"))
		return
	}

	result, err := h.verification.VerifyAccount(r.Context(), sessionID, verification.AccountDetails{
		SortCode:      req.SortCode,
		AccountNumber: req.AccountNumber,
	})
	if err != nil {
		h.logFailure(r, "verify account", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, checkResponse{
		Result:       string(result.CheckResult),
		Message:      result.Message,
		AttemptCount: result.AttemptCount,
	})
}

type authorizeRequest struct {
	SessionID string `json:"session_id"`
}

func (h *Handler) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	var req authorizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, dErrors.New(dErrors.CodeBadRequest, "invalid JSON body"))
		return
	}
	sessionID, err := uuid.Parse(req.SessionID)
	if err != nil {
		writeError(w, dErrors.New(dErrors.CodeBadRequest, "invalid session id"))
		return
	}

	code, err := h.auth.IssueAuthorizationCode(r.Context(), sessionID)
	if err != nil {
		h.logFailure(r, "issue authorization code", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"authorization_code": code})
}

func (h *Handler) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, dErrors.New(dErrors.CodeBadRequest, "invalid form body"))
		return
	}
	if grant := r.PostFormValue("grant_type"); grant != "authorization_code" {
		writeError(w, dErrors.New(dErrors.CodeBadRequest, "unsupported grant type"))
		return
	}
	code := r.PostFormValue("code")
	if code == "" {
		writeError(w, dErrors.New(dErrors.CodeBadRequest, "code is mandatory"))
		return
	}

	token, err := h.auth.ExchangeCodeForToken(r.Context(), code)
	if err != nil {
		h.logFailure(r, "exchange token", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, token)
}

func (h *Handler) handleIssueCredential(w http.ResponseWriter, r *http.Request) {
	sessionID, err := h.bearerSession(r)
	if err != nil {
		writeError(w, err)
		return
	}

	jws, err := h.issuer.Issue(r.Context(), sessionID)
	if err != nil {
		h.logFailure(r, "issue credential", err)
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/jwt")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(jws))
}

func (h *Handler) handleAbort(w http.ResponseWriter, r *http.Request) {
	var req authorizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, dErrors.New(dErrors.CodeBadRequest, "invalid JSON body"))
		return
	}
	sessionID, err := uuid.Parse(req.SessionID)
	if err != nil {
		writeError(w, dErrors.New(dErrors.CodeBadRequest, "invalid session id"))
		return
	}

	if err := h.sessions.Abort(r.Context(), sessionID); err != nil {
		h.logFailure(r, "abort session", err)
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleHealthcheck(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	checks := map[string]string{}
	for name, check := range h.health {
		if err := check(r.Context()); err != nil {
			checks[name] = "unavailable"
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}
	writeJSON(w, status, map[string]any{"status": http.StatusText(status), "checks": checks})
}

// bearerSession resolves the session bound to the request's bearer token.
func (h *Handler) bearerSession(r *http.Request) (uuid.UUID, error) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return uuid.Nil, dErrors.New(dErrors.CodeUnauthorized, "missing bearer token")
	}
	return h.auth.AuthorizeBearer(strings.TrimPrefix(header, "Bearer "))
}

func (h *Handler) logFailure(r *http.Request, op string, err error) {
	h.logger.WarnContext(r.Context(), "request failed",
		slog.String("op", op),
		slog.String("code", string(dErrors.CodeOf(err))),
		slog.String("error", err.Error()))
}
