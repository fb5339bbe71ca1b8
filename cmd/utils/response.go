package utils

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"strings"

	"gorm.io/gorm"
)

var (
	ErrBadRequest   = errors.New("bad request")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
	ErrRateLimited  = errors.New("too many requests")
)

// ValidationError carries per-field messages and is answered with 422.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// FieldError is shorthand for a single-field validation failure.
func FieldError(field, message string) error {
	return &ValidationError{Fields: map[string]string{field: message}}
}

// BadRequest wraps ErrBadRequest with a message shown to the client.
func BadRequest(message string) error {
	return &messageError{err: ErrBadRequest, message: message}
}

// NotFound wraps ErrNotFound with a message shown to the client.
func NotFound(message string) error {
	return &messageError{err: ErrNotFound, message: message}
}

type messageError struct {
	err     error
	message string
}

func (e *messageError) Error() string { return e.message }
func (e *messageError) Unwrap() error { return e.err }

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

// StatusFor maps an error to the HTTP status the API answers with.
func StatusFor(err error) int {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound), errors.Is(err, gorm.ErrRecordNotFound):
		return http.StatusNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func RespondWithError(w http.ResponseWriter, r *http.Request, err error) {
	code := StatusFor(err)
	body := ErrorResponse{Error: http.StatusText(code)}

	var verr *ValidationError
	var merr *messageError
	switch {
	case errors.As(err, &verr):
		body.Error = "Validation failed"
		body.Fields = verr.Fields
	case errors.Is(err, gorm.ErrDuplicatedKey):
		body.Error = "Resource already exists"
	case errors.As(err, &merr):
		body.Error = merr.message
	}

	if code == http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		body.Error = "Internal server error"
	}

	RespondWithJSON(w, code, body)
}

func RespondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Warn("failed to encode response", "error", err)
	}
}

func RespondNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// DecodeJSON reads a JSON body into dst. Unknown fields are rejected so
// typos in client payloads surface as 400 instead of being ignored.
func DecodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return BadRequest("Invalid request payload")
	}
	return nil
}
