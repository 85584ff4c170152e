package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a Tether error code.
type ErrorCode string

const (
	ErrInvalidRequest      ErrorCode = "INVALID_REQUEST"      // 400
	ErrNotFound            ErrorCode = "NOT_FOUND"            // 404
	ErrFileNotFound        ErrorCode = "FILE_NOT_FOUND"       // 404
	ErrConflict            ErrorCode = "CONFLICT"             // 409
	ErrMalformedAnnotation ErrorCode = "MALFORMED_ANNOTATION" // 422
	ErrPersistence         ErrorCode = "PERSISTENCE"          // 500
	ErrSummarization       ErrorCode = "SUMMARIZATION"        // 502
	ErrInternal            ErrorCode = "INTERNAL"             // 500
)

// TetherError represents a structured error with code, status, and details.
type TetherError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any
	cause   error
}

// Error implements the error interface.
func (e *TetherError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *TetherError) Unwrap() error {
	return e.cause
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *TetherError {
	return &TetherError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewNotFound creates a 404 error for a missing communication.
// Store lookups report misses as nil results; this is only raised at the
// CLI and MCP edges where the caller asked for exactly one record.
func NewNotFound(id string) *TetherError {
	return &TetherError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("communication not found: %s", id),
		Details: map[string]any{"id": id},
	}
}

// NewFileNotFound creates a 404 error for a missing file.
func NewFileNotFound(path string) *TetherError {
	return &TetherError{
		Code:    ErrFileNotFound,
		Status:  404,
		Message: fmt.Sprintf("file not found: %s", path),
		Details: map[string]any{"path": path},
	}
}

// NewConflict creates a 409 error for chain pointer conflicts.
func NewConflict(msg string) *TetherError {
	return &TetherError{
		Code:    ErrConflict,
		Status:  409,
		Message: msg,
	}
}

// NewMalformedAnnotation creates a 422 error describing an annotation span
// that could not be parsed. It is logged, never returned to callers.
func NewMalformedAnnotation(span string, offset int, reason string) *TetherError {
	return &TetherError{
		Code:    ErrMalformedAnnotation,
		Status:  422,
		Message: fmt.Sprintf("malformed annotation at offset %d: %s", offset, reason),
		Details: map[string]any{"span": span, "offset": offset},
	}
}

// NewPersistence creates a 500 error for a failed store write.
func NewPersistence(op string, err error) *TetherError {
	msg := op + " failed"
	if err != nil {
		msg = fmt.Sprintf("%s failed: %v", op, err)
	}
	return &TetherError{
		Code:    ErrPersistence,
		Status:  500,
		Message: msg,
		Details: map[string]any{"op": op},
		cause:   err,
	}
}

// NewSummarization creates a 502 error for a failed summarization call.
func NewSummarization(err error) *TetherError {
	msg := "summarization failed"
	if err != nil {
		msg = fmt.Sprintf("summarization failed: %v", err)
	}
	return &TetherError{
		Code:    ErrSummarization,
		Status:  502,
		Message: msg,
		cause:   err,
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
func NewInternal(err error) *TetherError {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &TetherError{
		Code:    ErrInternal,
		Status:  500,
		Message: msg,
		cause:   err,
	}
}

// Is checks if an error (or anything it wraps) is a TetherError with the given code.
func Is(err error, code ErrorCode) bool {
	var tErr *TetherError
	if stderrors.As(err, &tErr) {
		return tErr.Code == code
	}
	return false
}

// As returns the TetherError in err's chain, if any.
func As(err error) (*TetherError, bool) {
	var tErr *TetherError
	if stderrors.As(err, &tErr) {
		return tErr, true
	}
	return nil, false
}
