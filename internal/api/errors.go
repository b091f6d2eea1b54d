package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// AppError is an error with a stable code and an HTTP status.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Detail     string `json:"detail,omitempty"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetail returns a copy of e carrying detail.
func (e *AppError) WithDetail(detail string) *AppError {
	c := *e
	c.Detail = detail
	return &c
}

// WithCause returns a copy of e wrapping err.
func (e *AppError) WithCause(err error) *AppError {
	c := *e
	c.Err = err
	return &c
}

var (
	ErrInvalidJSON = &AppError{
		Code:       "invalid_json",
		Message:    "request body is not valid JSON",
		HTTPStatus: http.StatusBadRequest,
	}
	ErrMissingKey = &AppError{
		Code:       "missing_key",
		Message:    "key cannot be empty",
		HTTPStatus: http.StatusBadRequest,
	}
	ErrInvalidKey = &AppError{
		Code:       "invalid_key",
		Message:    "key is not a valid path segment",
		HTTPStatus: http.StatusBadRequest,
	}
	ErrMissingTimestamp = &AppError{
		Code:       "missing_timestamp",
		Message:    "replicated write has no timestamp",
		HTTPStatus: http.StatusBadRequest,
	}
	ErrInvalidQuorum = &AppError{
		Code:       "invalid_quorum",
		Message:    "writeQuorum must be an integer",
		HTTPStatus: http.StatusBadRequest,
	}
	ErrUnknownConfigKey = &AppError{
		Code:       "unknown_config_key",
		Message:    "Unknown config key",
		HTTPStatus: http.StatusBadRequest,
	}
	ErrWrongRole = &AppError{
		Code:       "method_not_allowed",
		Message:    "operation not available on this node role",
		HTTPStatus: http.StatusMethodNotAllowed,
	}
	ErrQuorumFailure = &AppError{
		Code:       "quorum_failure",
		Message:    "write did not reach the required quorum",
		HTTPStatus: http.StatusServiceUnavailable,
	}
	ErrTimeout = &AppError{
		Code:       "timeout",
		Message:    "request abandoned before the write was decided",
		HTTPStatus: http.StatusGatewayTimeout,
	}
	ErrInternal = &AppError{
		Code:       "internal_error",
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
	}
)

// FromError converts err to an AppError, defaulting to ErrInternal.
func FromError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return ErrInternal.WithCause(err)
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// WriteError renders err as a JSON error body.
func WriteError(w http.ResponseWriter, err error) {
	appErr := FromError(err)
	writeJSON(w, appErr.HTTPStatus, errorResponse{
		Code:    appErr.Code,
		Message: appErr.Message,
		Detail:  appErr.Detail,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
