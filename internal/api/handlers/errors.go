// Package handlers holds the shared HTTP response envelope used by all
// Postwing endpoint packages.
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// Error kinds surfaced at the HTTP boundary.
const (
	KindValidation       = "VALIDATION_ERROR"
	KindUnauthorized     = "UNAUTHORIZED"
	KindForbidden        = "FORBIDDEN"
	KindNotFound         = "NOT_FOUND"
	KindInvalidOperation = "INVALID_OPERATION"
	KindRateLimited      = "RATE_LIMIT_EXCEEDED"
	KindOAuth            = "OAUTH_ERROR"
	KindServer           = "SERVER_ERROR"
)

// ErrorResponse is the envelope every error response carries.
type ErrorResponse struct {
	Error   string      `json:"error"`
	Message string      `json:"message"`
	Code    int         `json:"code"`
	Details interface{} `json:"details,omitempty"`
}

// WriteError writes a standardized JSON error response.
func WriteError(w http.ResponseWriter, statusCode int, kind, message string) {
	WriteErrorDetails(w, statusCode, kind, message, nil)
}

// WriteErrorDetails writes an error response with an optional details
// payload, typically per-field validation messages.
func WriteErrorDetails(w http.ResponseWriter, statusCode int, kind, message string, details interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(ErrorResponse{
		Error:   kind,
		Message: message,
		Code:    statusCode,
		Details: details,
	}); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}

// WriteJSON writes a success payload with the given status code.
func WriteJSON(w http.ResponseWriter, statusCode int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
