package utils

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/upb/restaurant-identity/services"
)

// ErrorResponse represents a structured error response
type ErrorResponse struct {
	Success    bool                      `json:"success"`
	Error      string                    `json:"error"`
	Message    string                    `json:"message"`
	Errors     []services.FieldViolation `json:"errors,omitempty"`
	RetryAfter int                       `json:"retryAfter,omitempty"`
	Timestamp  string                    `json:"timestamp"`
}

// MessageResponse is a success response that only carries a message
type MessageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data == nil {
		return nil
	}

	return json.NewEncoder(w).Encode(data)
}

// WriteOK writes a 200 OK response
func WriteOK(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, data)
}

// WriteCreated writes a 201 Created response
func WriteCreated(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusCreated, data)
}

// WriteMessage writes a 200 OK response with only a message
func WriteMessage(w http.ResponseWriter, message string) error {
	return WriteJSON(w, http.StatusOK, MessageResponse{Success: true, Message: message})
}

// WriteNoContent writes a 204 No Content response
func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// WriteBadRequest writes a 400 Bad Request response
func WriteBadRequest(w http.ResponseWriter, message string) error {
	return WriteError(w, http.StatusBadRequest, message)
}

// WriteValidationError writes a 400 response listing every violation
func WriteValidationError(w http.ResponseWriter, violations []services.FieldViolation) error {
	if violations == nil {
		violations = []services.FieldViolation{}
	}
	return WriteJSON(w, http.StatusBadRequest, ErrorResponse{
		Error:     "validation_failed",
		Message:   services.ErrValidation.Message,
		Errors:    violations,
		Timestamp: timestamp(),
	})
}

// WriteUnauthorized writes a 401 Unauthorized response
func WriteUnauthorized(w http.ResponseWriter, message string) error {
	if message == "" {
		message = services.ErrNotAuthenticated.Message
	}
	return WriteError(w, http.StatusUnauthorized, message)
}

// WriteForbidden writes a 403 Forbidden response
func WriteForbidden(w http.ResponseWriter, message string) error {
	if message == "" {
		message = services.ErrInsufficientPermissions.Message
	}
	return WriteError(w, http.StatusForbidden, message)
}

// WriteNotFound writes a 404 Not Found response
func WriteNotFound(w http.ResponseWriter, message string) error {
	if message == "" {
		message = "Resource not found"
	}
	return WriteError(w, http.StatusNotFound, message)
}

// WriteRequestTooLarge writes a 413 response
func WriteRequestTooLarge(w http.ResponseWriter) error {
	return WriteError(w, http.StatusRequestEntityTooLarge, "Request entity too large")
}

// WriteTooManyRequests writes a 429 response with the Retry-After header
func WriteTooManyRequests(w http.ResponseWriter, message string, retryAfter int) error {
	if message == "" {
		message = services.ErrRateLimitExceeded.Message
	}
	if retryAfter < 1 {
		retryAfter = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	return WriteJSON(w, http.StatusTooManyRequests, ErrorResponse{
		Error:      "rate_limit_exceeded",
		Message:    message,
		RetryAfter: retryAfter,
		Timestamp:  timestamp(),
	})
}

// WriteInternalServerError writes a 500 response. The message never carries
// the underlying cause.
func WriteInternalServerError(w http.ResponseWriter) error {
	return WriteError(w, http.StatusInternalServerError, "Something went wrong!")
}

// WriteError writes an error response based on the status code
func WriteError(w http.ResponseWriter, status int, message string) error {
	var errorType string
	switch status {
	case http.StatusBadRequest:
		errorType = "bad_request"
	case http.StatusUnauthorized:
		errorType = "unauthorized"
	case http.StatusForbidden:
		errorType = "forbidden"
	case http.StatusNotFound:
		errorType = "not_found"
	case http.StatusRequestEntityTooLarge:
		errorType = "request_too_large"
	case http.StatusTooManyRequests:
		errorType = "rate_limit_exceeded"
	default:
		errorType = "internal_error"
	}

	return WriteJSON(w, status, ErrorResponse{
		Error:     errorType,
		Message:   message,
		Timestamp: timestamp(),
	})
}

// SetRateLimitHeaders sets the standard RateLimit-* headers
func SetRateLimitHeaders(w http.ResponseWriter, limit, remaining int, resetSeconds int) {
	if remaining < 0 {
		remaining = 0
	}
	h := w.Header()
	h.Set("RateLimit-Limit", strconv.Itoa(limit))
	h.Set("RateLimit-Remaining", strconv.Itoa(remaining))
	h.Set("RateLimit-Reset", strconv.Itoa(resetSeconds))
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}
