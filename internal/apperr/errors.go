package apperr

import (
	"errors"
	"fmt"
)

type Code string

const (
	CodeNotFound            Code = "NOT_FOUND"
	CodeForbidden           Code = "FORBIDDEN"
	CodeSelfMessagingDenied Code = "SELF_MESSAGING_DENIED"
	CodeValidation          Code = "VALIDATION"
	CodeStore               Code = "STORE"
	CodeUnauthenticated     Code = "UNAUTHENTICATED"
	CodeConflict            Code = "CONFLICT"
)

type AppError struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Cause }

// Is matches on Code so callers can compare against the sentinels below
// even when the message differs.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

func New(code Code, message string) error {
	return &AppError{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) error {
	return &AppError{Code: code, Message: message, Cause: cause}
}

func NotFound(msg string) error   { return New(CodeNotFound, msg) }
func Forbidden(msg string) error  { return New(CodeForbidden, msg) }
func Validation(msg string) error { return New(CodeValidation, msg) }
func Conflict(msg string) error   { return New(CodeConflict, msg) }

func Store(msg string, cause error) error {
	return Wrap(CodeStore, msg, cause)
}

var (
	ErrNotFound            = NotFound("not found")
	ErrForbidden           = Forbidden("not a participant of this conversation")
	ErrSelfMessagingDenied = New(CodeSelfMessagingDenied, "you can't message yourself about your own boat")
	ErrValidation          = Validation("validation failed")
	ErrStore               = New(CodeStore, "store failure")
	ErrUnauthenticated     = New(CodeUnauthenticated, "unauthenticated")
)

// CodeOf returns the code of the first AppError in err's chain, or CodeStore for
// anything unclassified.
func CodeOf(err error) Code {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeStore
}

// MessageOf returns the client-safe message of err. Causes are never exposed.
func MessageOf(err error) string {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Message
	}
	return "internal error"
}
