package micropub

import (
	"errors"
	"fmt"
)

// ErrorCode is the machine readable Micropub error code.
type ErrorCode string

const (
	CodeInvalidRequest    ErrorCode = "invalid_request"
	CodeUnauthorized      ErrorCode = "unauthorized"
	CodeForbidden         ErrorCode = "forbidden"
	CodeInsufficientScope ErrorCode = "insufficient_scope"
	CodeInvalidRepo       ErrorCode = "invalid_repo"
)

// Error is a terminal, caller-visible request failure.
type Error struct {
	Code        ErrorCode
	Description string
	Err         error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Description, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(code ErrorCode, description string, err error) *Error {
	if description == "" {
		description = defaultDescriptions[code]
	}
	return &Error{Code: code, Description: description, Err: err}
}

var defaultDescriptions = map[ErrorCode]string{
	CodeInvalidRequest:    "Invalid request",
	CodeUnauthorized:      "Unauthorized",
	CodeForbidden:         "Forbidden",
	CodeInsufficientScope: "Insufficient scope information provided.",
	CodeInvalidRepo:       "Repository doesn't exist.",
}

func InvalidRequest(description string) *Error {
	return newError(CodeInvalidRequest, description, nil)
}

func Unauthorized(description string) *Error {
	return newError(CodeUnauthorized, description, nil)
}

func Forbidden(description string) *Error {
	return newError(CodeForbidden, description, nil)
}

func InsufficientScope(description string) *Error {
	return newError(CodeInsufficientScope, description, nil)
}

// InvalidRepo wraps the remote failure that caused the rejection.
func InvalidRepo(err error) *Error {
	return newError(CodeInvalidRepo, "", err)
}

// CodeOf returns the Micropub error code carried by err, if any.
func CodeOf(err error) (ErrorCode, bool) {
	var mpErr *Error
	if errors.As(err, &mpErr) {
		return mpErr.Code, true
	}
	return "", false
}
