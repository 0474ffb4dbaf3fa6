// Package apperr defines the caller-facing error taxonomy shared by every
// operation: unauthorized, not found, and bad request. All three carry a
// machine-readable code and a human-readable message so the client can render
// them directly.
package apperr

import (
	"errors"
	"fmt"
)

// Code classifies a structured, caller-facing failure.
type Code string

const (
	CodeUnauthorized Code = "UNAUTHORIZED"
	CodeNotFound     Code = "NOT_FOUND"
	CodeBadRequest   Code = "BAD_REQUEST"
)

// Error is a structured failure surfaced to the caller. It is never used for
// internal faults; those stay as wrapped plain errors and map to a generic
// server failure at the HTTP layer.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unauthorized returns an UNAUTHORIZED error with the given message.
func Unauthorized(message string) *Error {
	return &Error{Code: CodeUnauthorized, Message: message}
}

// NotFound returns a NOT_FOUND error with the given message.
func NotFound(message string) *Error {
	return &Error{Code: CodeNotFound, Message: message}
}

// BadRequest returns a BAD_REQUEST error with the given message.
func BadRequest(message string) *Error {
	return &Error{Code: CodeBadRequest, Message: message}
}

// FromError extracts a structured Error from err, if one is present anywhere
// in its chain.
func FromError(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code Code) bool {
	appErr, ok := FromError(err)
	return ok && appErr.Code == code
}
