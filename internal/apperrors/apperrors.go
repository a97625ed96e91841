// Package apperrors provides the error taxonomy of the sync core. Error
// codes cross the boundary to the UI layer, which maps them to user-facing
// retry/discard choices.
package apperrors

import (
	"errors"
	"fmt"
)

// Code is a stable error code understood by the UI layer.
type Code string

const (
	// CodeLocalPersistence marks a failure of the local store itself.
	// Fatal: the queue is the durability guarantee, so there is nothing
	// to retry against.
	CodeLocalPersistence Code = "LOCAL_PERSISTENCE_FAILURE"

	// CodeRemoteWrite marks a recoverable remote failure. The action
	// stays queued and its attempt counter is incremented.
	CodeRemoteWrite Code = "REMOTE_WRITE_FAILURE"

	// CodeConnectivity marks absent connectivity. Sync short-circuits
	// without charging the action an attempt.
	CodeConnectivity Code = "CONNECTIVITY_UNAVAILABLE"

	// CodeCorruptAsset marks a photo asset with both copies missing.
	// A missing primary alone is recovered via the backup copy.
	CodeCorruptAsset Code = "CORRUPT_ASSET"

	// CodeExhaustedRetries marks an action at the attempt cap. Terminal:
	// reported with explicit retry/discard choices, never auto-retried.
	CodeExhaustedRetries Code = "EXHAUSTED_RETRIES"

	CodeNotFound  Code = "NOT_FOUND"
	CodeInvalid   Code = "INVALID_INPUT"
	CodeDatabase  Code = "DATABASE_ERROR"
	CodeMigration Code = "MIGRATION_FAILED"
)

// AppError carries a code, a human message and an optional cause.
type AppError struct {
	Code    Code
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code Code, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// Newf creates a new AppError with a formatted message.
func Newf(code Code, format string, args ...interface{}) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with a code and message.
func Wrap(code Code, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

// Is reports whether err (or anything it wraps) carries the given code.
func Is(err error, code Code) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// CodeOf extracts the code from err, or the empty code when err does not
// carry an AppError anywhere in its chain.
func CodeOf(err error) Code {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}
