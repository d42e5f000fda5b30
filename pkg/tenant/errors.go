package tenant

import "errors"

// ErrorCode identifies an expected failure mode. These are part of the wire
// contract: callers surface the code verbatim.
type ErrorCode string

const (
	ErrCodeOrganizationNotFound  ErrorCode = "ORGANIZATION_NOT_FOUND"
	ErrCodeTeamNotFound          ErrorCode = "TEAM_NOT_FOUND"
	ErrCodeUserNotFound          ErrorCode = "USER_NOT_FOUND"
	ErrCodeAPIKeyNotFound        ErrorCode = "API_KEY_NOT_FOUND"
	ErrCodeAPIKeyExpired         ErrorCode = "API_KEY_EXPIRED"
	ErrCodeAPIKeyRevoked         ErrorCode = "API_KEY_REVOKED"
	ErrCodePermissionDenied      ErrorCode = "PERMISSION_DENIED"
	ErrCodeQuotaExceeded         ErrorCode = "QUOTA_EXCEEDED"
	ErrCodeOrganizationSuspended ErrorCode = "ORGANIZATION_SUSPENDED"
	ErrCodeTeamSuspended         ErrorCode = "TEAM_SUSPENDED"
	ErrCodeUserSuspended         ErrorCode = "USER_SUSPENDED"
	ErrCodeInvalidKeyFormat      ErrorCode = "INVALID_KEY_FORMAT"
)

// Error is a typed expected failure. Unexpected I/O failures are returned as
// plain wrapped errors and must be mapped to a generic internal error by the
// transport layer.
type Error struct {
	Code    ErrorCode
	Message string

	// MissingPermissions is populated for PERMISSION_DENIED failures.
	MissingPermissions []Permission
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return string(e.Code) + ": " + e.Message
}

// NewError creates a typed tenant error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// NewPermissionDenied creates a PERMISSION_DENIED error carrying the missing
// permission list.
func NewPermissionDenied(message string, missing []Permission) *Error {
	return &Error{Code: ErrCodePermissionDenied, Message: message, MissingPermissions: missing}
}

// CodeOf extracts the error code from err, or "" if err is not a tenant error.
func CodeOf(err error) ErrorCode {
	var te *Error
	if errors.As(err, &te) {
		return te.Code
	}
	return ""
}

// IsCode reports whether err is a tenant error with the given code.
func IsCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}
