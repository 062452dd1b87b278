package drive

import (
	"fmt"
	"net/http"
	"strings"

	errors "github.com/Laisky/errors/v2"
	"gorm.io/gorm"
)

// ErrorCode identifies a machine-stable drive error code.
type ErrorCode string

const (
	ErrCodeNotFound            ErrorCode = "NOT_FOUND"
	ErrCodeAlreadyExists       ErrorCode = "ALREADY_EXISTS"
	ErrCodeQuotaExceeded       ErrorCode = "QUOTA_EXCEEDED"
	ErrCodePayloadTooLarge     ErrorCode = "PAYLOAD_TOO_LARGE"
	ErrCodeExpired             ErrorCode = "EXPIRED"
	ErrCodeUnauthorized        ErrorCode = "UNAUTHORIZED"
	ErrCodePasswordRequired    ErrorCode = "PASSWORD_REQUIRED"
	ErrCodeForbidden           ErrorCode = "FORBIDDEN"
	ErrCodeInvalidArgument     ErrorCode = "INVALID_ARGUMENT"
	ErrCodeRangeNotSatisfiable ErrorCode = "RANGE_NOT_SATISFIABLE"
	ErrCodeResourceBusy        ErrorCode = "RESOURCE_BUSY"
	ErrCodeIO                  ErrorCode = "IO_ERROR"
)

// Error captures a typed drive error with retryability metadata.
type Error struct {
	Code      ErrorCode
	Message   string
	Retryable bool
}

// Error returns the error message.
func (e *Error) Error() string {
	if e == nil {
		return "drive error: <nil>"
	}
	if e.Message == "" {
		return fmt.Sprintf("drive error: %s", e.Code)
	}
	return e.Message
}

// HTTPStatus maps the error code to a response status.
func (e *Error) HTTPStatus() int {
	if e == nil {
		return http.StatusInternalServerError
	}
	switch e.Code {
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeAlreadyExists:
		return http.StatusConflict
	case ErrCodeQuotaExceeded, ErrCodePayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case ErrCodeExpired:
		return http.StatusGone
	case ErrCodeUnauthorized, ErrCodePasswordRequired:
		return http.StatusUnauthorized
	case ErrCodeForbidden:
		return http.StatusForbidden
	case ErrCodeInvalidArgument:
		return http.StatusBadRequest
	case ErrCodeRangeNotSatisfiable:
		return http.StatusRequestedRangeNotSatisfiable
	case ErrCodeResourceBusy:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// NewError constructs a typed drive error.
func NewError(code ErrorCode, message string, retryable bool) *Error {
	return &Error{Code: code, Message: message, Retryable: retryable}
}

// AsError extracts a typed drive error from the error chain.
func AsError(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}
	var typed *Error
	if errors.As(err, &typed) {
		return typed, true
	}
	return nil, false
}

// IsCode reports whether the error chain contains the given code.
func IsCode(err error, code ErrorCode) bool {
	if typed, ok := AsError(err); ok {
		return typed.Code == code
	}
	return false
}

func errNotFound(msg string) *Error     { return NewError(ErrCodeNotFound, msg, false) }
func errInvalid(msg string) *Error      { return NewError(ErrCodeInvalidArgument, msg, false) }
func errForbidden(msg string) *Error    { return NewError(ErrCodeForbidden, msg, false) }
func errUnauthorized(msg string) *Error { return NewError(ErrCodeUnauthorized, msg, false) }

// errIO wraps cause behind a typed IO error. Only msg reaches clients.
func errIO(cause error, msg string) error {
	return errors.Wrapf(NewError(ErrCodeIO, msg, false), "%v", cause)
}

// isUniqueViolation reports whether err is a unique constraint failure on any supported dialect.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key value") ||
		strings.Contains(msg, "sqlstate 23505")
}
