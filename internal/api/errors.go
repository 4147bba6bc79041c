package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/sethshoultes/flock-control/internal/logging"
	"github.com/sethshoultes/flock-control/internal/validation"
)

// ErrorResponse represents a JSON error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// ServiceError is an error with the HTTP status it should be reported as.
type ServiceError struct {
	Status  int
	Message string
	Err     error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ServiceError) Unwrap() error { return e.Err }

func BadRequest(message string, err error) *ServiceError {
	return &ServiceError{Status: http.StatusBadRequest, Message: message, Err: err}
}

func Internal(message string, err error) *ServiceError {
	return &ServiceError{Status: http.StatusInternalServerError, Message: message, Err: err}
}

// JSONError writes a JSON error response
func JSONError(w http.ResponseWriter, message string, statusCode int) {
	writeJSON(w, statusCode, ErrorResponse{Error: message})
}

// respondError reports err. ServiceErrors keep their status and message,
// anything else is an opaque 500.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	var se *ServiceError
	if !errors.As(err, &se) {
		se = Internal("Internal server error", err)
	}
	event := logging.Warn()
	if se.Status >= http.StatusInternalServerError {
		event = logging.Error()
	}
	event.Err(err).
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Int("status", se.Status).
		Msg("request failed")
	JSONError(w, se.Message, se.Status)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Debug().Err(err).Msg("failed to write response body")
	}
}

// decodeJSON reads a JSON body of at most maxBytes into v and validates it.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}, maxBytes int64) error {
	body := io.Reader(r.Body)
	if maxBytes > 0 {
		body = http.MaxBytesReader(w, r.Body, maxBytes)
	}
	if err := json.NewDecoder(body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return &ServiceError{Status: http.StatusRequestEntityTooLarge, Message: "Request body too large", Err: err}
		}
		return BadRequest("Invalid request body", err)
	}
	if err := validation.ValidateStruct(v); err != nil {
		return BadRequest(err.Error(), err)
	}
	return nil
}
