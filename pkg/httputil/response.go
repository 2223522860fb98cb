package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/platinummonkey/flowguard/pkg/auth"
)

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	Error       string `json:"error"`
	Message     string `json:"message,omitempty"`
	RedirectURL string `json:"redirectUrl,omitempty"`
	Retry       string `json:"retry,omitempty"`
}

// WriteErrorResponse writes resp with the given status code
func WriteErrorResponse(w http.ResponseWriter, status int, resp ErrorResponse) {
	_ = WriteJSON(w, status, resp)
}

// WriteErrorMessage writes a JSON error response with a custom message
func WriteErrorMessage(w http.ResponseWriter, status int, message string) {
	WriteErrorResponse(w, status, ErrorResponse{Error: http.StatusText(status), Message: message})
}

// WriteAuthError maps the error taxonomy to a status code and writes the response.
// Server-side failures never echo the underlying error to the client.
func WriteAuthError(w http.ResponseWriter, err error) {
	status, resp := ClassifyError(err)
	WriteErrorResponse(w, status, resp)
}

// ClassifyError returns the status code and body WriteAuthError would produce
func ClassifyError(err error) (int, ErrorResponse) {
	switch {
	case errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized, ErrorResponse{Error: "token expired", Message: auth.MsgTokenExpired, Retry: "refresh"}
	case errors.Is(err, auth.ErrAuthentication), errors.Is(err, auth.ErrAuthorization):
		return http.StatusUnauthorized, ErrorResponse{Error: "unauthorized", Message: err.Error()}
	case errors.Is(err, auth.ErrValidation):
		return http.StatusBadRequest, ErrorResponse{Error: "bad request", Message: err.Error()}
	case errors.Is(err, auth.ErrForbidden):
		return http.StatusForbidden, ErrorResponse{Error: "forbidden", Message: err.Error()}
	case errors.Is(err, auth.ErrNotFound):
		return http.StatusNotFound, ErrorResponse{Error: "not found", Message: err.Error()}
	case errors.Is(err, auth.ErrConflict):
		return http.StatusConflict, ErrorResponse{Error: "conflict", Message: err.Error()}
	case errors.Is(err, auth.ErrConsistency):
		return http.StatusInternalServerError, ErrorResponse{Error: "internal server error", Message: "operation was rolled back"}
	default:
		return http.StatusInternalServerError, ErrorResponse{Error: "internal server error"}
	}
}

// WriteSuccess writes a successful response (200 OK) with JSON data
func WriteSuccess(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, data)
}

// WriteCreated writes a successful creation response (201 Created) with JSON data
func WriteCreated(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusCreated, data)
}

// WriteNoContent writes a successful response with no content (204 No Content)
func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// WriteBadRequest writes a bad request error (400)
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusBadRequest, message)
}

// WriteUnauthorized writes an unauthorized error (401)
func WriteUnauthorized(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusUnauthorized, message)
}

// WriteForbidden writes a forbidden error (403)
func WriteForbidden(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusForbidden, message)
}

// WriteTooManyRequests writes a rate limit error (429)
func WriteTooManyRequests(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusTooManyRequests, message)
}

// WriteInternalError writes a generic 500
func WriteInternalError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
}
