package errors

import (
	"errors"
	"net/http"
)

// Domain sentinel errors
var (
	ErrNotFound         = errors.New("resource not found")
	ErrDuplicateID      = errors.New("resource already exists")
	ErrInvalidInput     = errors.New("invalid input")
	ErrBadRequest       = errors.New("bad request")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrForbidden        = errors.New("forbidden")
	ErrUnsupportedChain = errors.New("unsupported chain")
	ErrUnsupportedToken = errors.New("unsupported token")
	ErrRPC              = errors.New("chain rpc error")
	ErrCrypto           = errors.New("cryptography error")
	ErrStorage          = errors.New("storage error")
	ErrChannelClosed    = errors.New("event channel closed")
)

// Error codes surfaced on the admin API, stable across Message wording changes.
const (
	CodeNotFound      = "not_found"
	CodeConflict      = "conflict"
	CodeBadRequest    = "bad_request"
	CodeInvalidInput  = "invalid_input"
	CodeUnauthorized  = "unauthorized"
	CodeForbidden     = "forbidden"
	CodeInternalError = "internal_error"
)

// AppError represents an application error with an HTTP status and a stable code.
type AppError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NewAppError(status int, code, message string, err error) *AppError {
	return &AppError{Status: status, Code: code, Message: message, Err: err}
}

func NotFound(message string) *AppError {
	return NewAppError(http.StatusNotFound, CodeNotFound, message, ErrNotFound)
}

func Conflict(message string) *AppError {
	return NewAppError(http.StatusConflict, CodeConflict, message, ErrDuplicateID)
}

func BadRequest(message string) *AppError {
	return NewAppError(http.StatusBadRequest, CodeInvalidInput, message, ErrInvalidInput)
}

func Unauthorized(message string) *AppError {
	return NewAppError(http.StatusUnauthorized, CodeUnauthorized, message, ErrUnauthorized)
}

func Forbidden(message string) *AppError {
	return NewAppError(http.StatusForbidden, CodeForbidden, message, ErrForbidden)
}

func InternalError(err error) *AppError {
	return NewAppError(http.StatusInternalServerError, CodeInternalError, "internal server error", err)
}

func InternalServerError(message string) *AppError {
	return NewAppError(http.StatusInternalServerError, CodeInternalError, message, errors.New(message))
}

// NewError wraps err with a custom message as a bad-request AppError.
func NewError(message string, err error) error {
	return &AppError{Status: http.StatusBadRequest, Code: CodeBadRequest, Message: message, Err: err}
}
