// Package response writes the JSON envelopes shared by every route.
package response

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/markdave123-py/knowledgehub/internal/core"
	"github.com/markdave123-py/knowledgehub/internal/services"
)

// ErrUnauthorized is reported when a request carries no usable identity.
var ErrUnauthorized = errors.New("unauthorized")

type meta struct {
	Timestamp string `json:"timestamp"`
	Path      string `json:"path"`
	Method    string `json:"method"`
}

type successBody struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    any    `json:"data"`
	Meta    meta   `json:"meta"`
}

type errorDetail struct {
	Message string `json:"message"`
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

type errorBody struct {
	StatusCode int         `json:"statusCode"`
	Timestamp  string      `json:"timestamp"`
	Path       string      `json:"path"`
	Method     string      `json:"method"`
	Response   errorDetail `json:"response"`
}

func now() string { return time.Now().UTC().Format(time.RFC3339Nano) }

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Success wraps data in the standard success envelope.
func Success(w http.ResponseWriter, r *http.Request, status int, data any) {
	writeJSON(w, status, successBody{
		Status:  true,
		Message: "Success",
		Data:    data,
		Meta:    meta{Timestamp: now(), Path: r.URL.Path, Method: r.Method},
	})
}

// WriteError writes the standard error body with an explicit status.
func WriteError(w http.ResponseWriter, r *http.Request, status int, message string, details any) {
	writeJSON(w, status, errorBody{
		StatusCode: status,
		Timestamp:  now(),
		Path:       r.URL.Path,
		Method:     r.Method,
		Response: errorDetail{
			Message: message,
			Error:   http.StatusText(status),
			Details: details,
		},
	})
}

// Error maps err to an HTTP status. Internal errors are logged and
// their text is not sent to the client.
func Error(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	status := StatusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "request failed",
			slog.String("path", r.URL.Path),
			slog.Any("error", err),
		)
		msg = "internal server error"
	}
	WriteError(w, r, status, msg, nil)
}

// StatusFor maps sentinel errors to HTTP statuses.
func StatusFor(err error) int {
	var maxErr *http.MaxBytesError
	switch {
	case errors.Is(err, services.ErrValidation), errors.Is(err, core.ErrUnsupportedFileType):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrFileTooLarge), errors.As(err, &maxErr):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, core.ErrFileNotFound):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}
