package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is a business error with a stable machine-readable code. The status
// maps the error category onto HTTP: 400 malformed input, 401 credentials,
// 403 bans and policy, 503 availability and missing server-side configuration.
type Error struct {
	Code    string
	Message string
	Status  int
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func New(code, message string, status int) *Error {
	return &Error{Code: code, Message: message, Status: status}
}

// As extracts an *Error from err, if present.
func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

func MissingProjectID() *Error {
	return New("MISSING_PROJECT_ID", "missing project id, pass it in the X-Project-ID header", http.StatusBadRequest)
}

func InvalidProject(projectID string) *Error {
	return New("INVALID_PROJECT", "invalid project id: "+projectID, http.StatusUnauthorized)
}

func ProjectInactive() *Error {
	return New("PROJECT_INACTIVE", "project is not active", http.StatusForbidden)
}

func ProjectDBUnavailable(projectID string) *Error {
	return New("PROJECT_DB_UNAVAILABLE", "project database unavailable: "+projectID, http.StatusServiceUnavailable)
}

func ProjectExists() *Error {
	return New("PROJECT_EXISTS", "project already exists", http.StatusConflict)
}

func ProjectNotFound() *Error {
	return New("PROJECT_NOT_FOUND", "project not found", http.StatusNotFound)
}

func MissingHeaders() *Error {
	return New("MISSING_HEADERS", "missing required authentication headers", http.StatusUnauthorized)
}

func InvalidDeviceID() *Error {
	return New("INVALID_DEVICE_ID", "device id must be a valid UUID", http.StatusBadRequest)
}

func InvalidUserID() *Error {
	return New("INVALID_USER_ID", "user id must be 32 hex characters", http.StatusBadRequest)
}

func InvalidTimestamp() *Error {
	return New("INVALID_TIMESTAMP", "timestamp must be epoch milliseconds", http.StatusBadRequest)
}

func TimestampExpired() *Error {
	return New("TIMESTAMP_EXPIRED", "request timestamp outside the validity window", http.StatusUnauthorized)
}

func InvalidCredentials() *Error {
	return New("INVALID_CREDENTIALS", "invalid api key or device id", http.StatusUnauthorized)
}

func DeviceBanned() *Error {
	return New("DEVICE_BANNED", "device is banned", http.StatusForbidden)
}

func InvalidSignature() *Error {
	return New("INVALID_SIGNATURE", "signature verification failed", http.StatusUnauthorized)
}

func MissingSessionID() *Error {
	return New("MISSING_SESSION_ID", "missing session id", http.StatusBadRequest)
}

func InvalidSessionID() *Error {
	return New("INVALID_SESSION_ID", "session id must be a valid UUID", http.StatusBadRequest)
}

func MissingEventType() *Error {
	return New("MISSING_EVENT_TYPE", "missing event type", http.StatusBadRequest)
}

func MissingMetricType() *Error {
	return New("MISSING_METRIC_TYPE", "missing metric type", http.StatusBadRequest)
}

func AdminTokenMissing() *Error {
	return New("ADMIN_TOKEN_MISSING", "missing admin token, use X-Admin-Token or Authorization: Bearer", http.StatusUnauthorized)
}

func AdminTokenInvalid(message string) *Error {
	return New("ADMIN_TOKEN_INVALID", message, http.StatusUnauthorized)
}

func AdminTokenNotConfigured() *Error {
	return New("ADMIN_TOKEN_NOT_CONFIGURED", "admin token is not configured on the server", http.StatusServiceUnavailable)
}

func TooManyAttempts(remainingSeconds int64) *Error {
	return New("TOO_MANY_ATTEMPTS",
		fmt.Sprintf("too many failed attempts, IP temporarily banned, retry in %d seconds", remainingSeconds),
		http.StatusForbidden)
}

func Require2FA() *Error {
	return New("REQUIRE_2FA", "a valid one-time code is required in the X-Admin-OTP header", http.StatusForbidden)
}

func Invalid2FACode() *Error {
	return New("INVALID_2FA_CODE", "the supplied one-time code is not valid", http.StatusForbidden)
}
