// Package response provides helpers for writing consistent JSON HTTP
// responses.
//
// Success responses may carry any JSON shape (a patient, a list...).
// Error responses always look like:
//
//	{ "status": "error", "error": "A patient with email a@x.com already exists" }
package response

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/pm/patient-service/internal/apperror"
)

// Response is the standard envelope returned for error cases.
type Response struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

const (
	StatusOK    = "ok"
	StatusError = "error"
)

// WriteJSON writes data as JSON with the given HTTP status code.
//
// Order matters: Header() -> WriteHeader() -> body writes. Once
// WriteHeader is called, headers are locked.
func WriteJSON(w http.ResponseWriter, status int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// GeneralError wraps any Go error into the standard Response shape.
func GeneralError(err error) Response {
	return Response{
		Status: StatusError,
		Error:  err.Error(),
	}
}

// ValidationError converts validator field errors into a single
// human-readable Response.
//
//	{ "status": "error", "error": "field name is required, field email must be a valid email address" }
func ValidationError(errs validator.ValidationErrors) Response {
	var errMessages []string

	for _, e := range errs {
		switch e.ActualTag() {
		case "required":
			errMessages = append(errMessages,
				fmt.Sprintf("field %s is required", e.Field()))
		case "notblank":
			errMessages = append(errMessages,
				fmt.Sprintf("field %s must not be blank", e.Field()))
		case "email":
			errMessages = append(errMessages,
				fmt.Sprintf("field %s must be a valid email address", e.Field()))
		case "datetime":
			errMessages = append(errMessages,
				fmt.Sprintf("field %s must be a date in YYYY-MM-DD format", e.Field()))
		case "max":
			errMessages = append(errMessages,
				fmt.Sprintf("field %s must be at most %s characters", e.Field(), e.Param()))
		default:
			errMessages = append(errMessages,
				fmt.Sprintf("field %s is invalid", e.Field()))
		}
	}

	return Response{
		Status: StatusError,
		Error:  strings.Join(errMessages, ", "),
	}
}

// StatusFor maps an error's apperror code to an HTTP status.
func StatusFor(err error) int {
	switch apperror.CodeOf(err) {
	case apperror.CodeNotFound:
		return http.StatusNotFound
	case apperror.CodeConflict:
		return http.StatusConflict
	case apperror.CodeInvalidInput:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// WriteError writes err with the status its code maps to. Errors with
// no code are reported as a generic internal error so storage or
// network details never reach the client.
func WriteError(w http.ResponseWriter, err error) error {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		var appErr *apperror.Error
		if !errors.As(err, &appErr) {
			err = errors.New("internal server error")
		}
	}
	return WriteJSON(w, status, GeneralError(err))
}
