package protocol

import (
	"errors"
	"fmt"
)

// Code classifies a failure reply.
type Code string

const (
	CodeNotFound          Code = "NOT_FOUND"
	CodeUnauthorized      Code = "UNAUTHORIZED"
	CodeInvalidInput      Code = "INVALID_INPUT"
	CodeConflict          Code = "CONFLICT"
	CodeProtocolViolation Code = "PROTOCOL_VIOLATION"
	CodeTimeout           Code = "TIMEOUT"
)

// Error is the typed failure carried by ERROR replies.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message,omitempty"`
}

// Sentinels for errors.Is; they match any Error with the same code.
var (
	ErrNotFound          = &Error{Code: CodeNotFound}
	ErrUnauthorized      = &Error{Code: CodeUnauthorized}
	ErrInvalidInput      = &Error{Code: CodeInvalidInput}
	ErrConflict          = &Error{Code: CodeConflict}
	ErrProtocolViolation = &Error{Code: CodeProtocolViolation}
	ErrTimeout           = &Error{Code: CodeTimeout}
)

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code && (t.Message == "" || t.Message == e.Message)
}

func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...any) *Error {
	return Errorf(CodeNotFound, format, args...)
}

func Unauthorized(format string, args ...any) *Error {
	return Errorf(CodeUnauthorized, format, args...)
}

func InvalidInput(format string, args ...any) *Error {
	return Errorf(CodeInvalidInput, format, args...)
}

func Conflict(format string, args ...any) *Error {
	return Errorf(CodeConflict, format, args...)
}

func ProtocolViolation(format string, args ...any) *Error {
	return Errorf(CodeProtocolViolation, format, args...)
}

// AsError converts err to a wire error. Untyped errors become INVALID_INPUT.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	return &Error{Code: CodeInvalidInput, Message: err.Error()}
}
