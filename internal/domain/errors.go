// Package domain contains domain errors used throughout the application.
package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for common error conditions.
var (
	ErrSuperseded        = errors.New("connect superseded by a newer request for the same path")
	ErrRegistryClosed    = errors.New("session registry is closed")
	ErrSessionClosed     = errors.New("document session is closed")
	ErrDocumentDestroyed = errors.New("document has been destroyed")
	ErrTransportClosed   = errors.New("transport is closed")
	ErrChannelShutdown   = errors.New("notification channel is shut down")
	ErrInvalidListener   = errors.New("invalid listener: must be a non-nil comparable value")
	ErrInvalidPath       = errors.New("invalid path")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrInvalidInput      = errors.New("invalid input")
)

// Error codes reported by the file service.
const (
	ErrCodeNotFound     = "NOT_FOUND"
	ErrCodeConflict     = "CONFLICT"
	ErrCodeUnauthorized = "UNAUTHORIZED"
	ErrCodeInvalidInput = "INVALID_INPUT"
)

// TransportError represents a failure of a realtime document transport.
type TransportError struct {
	Op         string // Operation that failed
	DocumentID string // Document the transport is scoped to
	Err        error  // Underlying error
}

func (e *TransportError) Error() string {
	if e.DocumentID != "" {
		return fmt.Sprintf("transport %s %s: %v", e.Op, e.DocumentID, e.Err)
	}
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// NewTransportError creates a new TransportError.
func NewTransportError(op, documentID string, err error) *TransportError {
	return &TransportError{
		Op:         op,
		DocumentID: documentID,
		Err:        err,
	}
}

// ValidationError represents a validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}
