// Package httputil provides HTTP handler utilities for consistent JSON
// responses and error payloads.
package httputil

import (
	"encoding/json"
	"net/http"

	"github.com/halcyonai/agentstore/pkg/tenant"
)

// ErrorResponse is the standardized error payload. Code carries the tenant
// error code for expected failures.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// WriteErrorMessage writes a JSON error response with a custom message
func WriteErrorMessage(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, ErrorResponse{Error: message}) //nolint:errcheck
}

// WriteInternalError writes a generic internal error without leaking the
// underlying failure to the caller.
func WriteInternalError(w http.ResponseWriter) {
	WriteErrorMessage(w, http.StatusInternalServerError, "internal error")
}

// WriteTenantError maps a typed tenant error to its HTTP status and payload.
func WriteTenantError(w http.ResponseWriter, err *tenant.Error) {
	WriteJSON(w, statusForCode(err.Code), ErrorResponse{ //nolint:errcheck
		Error: err.Message,
		Code:  string(err.Code),
	})
}

func statusForCode(code tenant.ErrorCode) int {
	switch code {
	case tenant.ErrCodeInvalidKeyFormat,
		tenant.ErrCodeAPIKeyNotFound,
		tenant.ErrCodeAPIKeyExpired,
		tenant.ErrCodeAPIKeyRevoked:
		return http.StatusUnauthorized
	case tenant.ErrCodePermissionDenied,
		tenant.ErrCodeOrganizationSuspended,
		tenant.ErrCodeTeamSuspended,
		tenant.ErrCodeUserSuspended:
		return http.StatusForbidden
	case tenant.ErrCodeOrganizationNotFound,
		tenant.ErrCodeTeamNotFound,
		tenant.ErrCodeUserNotFound:
		return http.StatusNotFound
	case tenant.ErrCodeQuotaExceeded:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
