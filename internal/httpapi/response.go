// Package httpapi holds the response envelope shared by handlers and the
// authentication middlewares.
package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"analytics-hub/internal/apperr"
)

type Response struct {
	Success   bool       `json:"success"`
	Data      any        `json:"data,omitempty"`
	Error     *ErrorInfo `json:"error,omitempty"`
	Timestamp string     `json:"timestamp"`
}

type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func WriteSuccess(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, Response{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func WriteErrorCode(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Response{
		Success:   false,
		Error:     &ErrorInfo{Code: code, Message: message},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// WriteError maps an error onto the envelope. Business errors keep their code
// and status; anything else becomes an opaque 500.
func WriteError(w http.ResponseWriter, err error) {
	if appErr, ok := apperr.As(err); ok {
		WriteErrorCode(w, appErr.Status, appErr.Code, appErr.Message)
		return
	}
	WriteErrorCode(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
