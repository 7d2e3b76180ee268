package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/warp/holdpay/auth"
	"github.com/warp/holdpay/generic"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`

	// Withdrawable is set on insufficient-balance and stale-request errors.
	Withdrawable *decimal.Decimal `json:"withdrawable,omitempty"`
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, auth.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, auth.ErrForbidden):
		return http.StatusForbidden
	case generic.IsNotFound(err):
		return http.StatusNotFound
	case generic.IsConflict(err):
		return http.StatusConflict
	case generic.IsClientError(err):
		return http.StatusUnprocessableEntity
	case generic.IsRetryable(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func errorMessage(status int) string {
	switch status {
	case http.StatusUnauthorized:
		return "Authentication required"
	case http.StatusForbidden:
		return "Not allowed"
	case http.StatusNotFound:
		return "Not found"
	case http.StatusConflict:
		return "Conflict"
	case http.StatusUnprocessableEntity:
		return "Request cannot be fulfilled"
	case http.StatusServiceUnavailable:
		return "Employee is busy, retry later"
	default:
		return "Internal error"
	}
}

// writeDomainError writes err with the status it maps to. Internal errors
// are logged and their details are not returned to the client.
func writeDomainError(w http.ResponseWriter, r *http.Request, logger zerolog.Logger, err error) {
	status := statusFor(err)
	resp := ErrorResponse{Error: errorMessage(status)}

	var insufficient *generic.InsufficientHoldBalanceError
	var stale *generic.StaleWithdrawalRequestError
	switch {
	case errors.As(err, &insufficient):
		resp.Withdrawable = &insufficient.Withdrawable
	case errors.As(err, &stale):
		resp.Withdrawable = &stale.Withdrawable
	}

	if status == http.StatusInternalServerError {
		logger.Error().Err(err).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg("request failed")
	} else {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
