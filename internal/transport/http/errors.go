package httptransport

import (
	"encoding/json"
	"net/http"

	dErrors "bankcri/pkg/domainerrors"
)

// errorBody is the JSON error envelope. Message is the domain error message
// only; vendor and crypto detail never crosses this boundary.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func statusFor(code dErrors.Code) int {
	switch code {
	case dErrors.CodeUnauthorized, dErrors.CodeSessionExpired:
		return http.StatusUnauthorized
	case dErrors.CodeBadRequest:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	writeJSON(w, statusFor(code), errorBody{
		Error:   string(code),
		Message: dErrors.MessageOf(err),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
