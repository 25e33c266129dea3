// Package apperror defines the typed errors returned by the account use cases.
//
// Every error a caller can observe is an *AppError wrapping exactly one of the
// sentinel kinds below. Handlers pick the HTTP status with errors.Is and show
// Message to the client; Message never carries infrastructure detail.
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrValidation     = errors.New("validation error")
	ErrConflict       = errors.New("conflict")
	ErrForbidden      = errors.New("forbidden")
	ErrAuthentication = errors.New("authentication failed")
	ErrToken          = errors.New("invalid token")
	ErrInternal       = errors.New("internal error")

	// ErrUnverified is an authentication failure caused by an account whose
	// email has not been verified yet. errors.Is(ErrUnverified, ErrAuthentication)
	// holds, so callers that only care about the broad kind can ignore it.
	ErrUnverified = fmt.Errorf("%w: email not verified", ErrAuthentication)
)

type AppError struct {
	Err     error  // actual error
	Message string // Human-readable error message
	Field   string // Optional: field causing the error
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

// NotFoundMessage is NotFound with a caller supplied message, for lookups
// that are not keyed by id (e.g. by email).
func NotFoundMessage(message string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: message,
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

// Conflict reports that a unique value is already owned by another record.
func Conflict(field, message string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: message,
		Field:   field,
	}
}

// Forbidden returns an AppError indicating the caller lacks permission.
// HTTP handlers map this to 403 Forbidden.
func Forbidden(message string) *AppError {
	return &AppError{
		Err:     ErrForbidden,
		Message: message,
	}
}

// AuthenticationFailed is returned when presented credentials do not match.
func AuthenticationFailed(message string) *AppError {
	return &AppError{
		Err:     ErrAuthentication,
		Message: message,
	}
}

// Unverified is returned when the credentials match an account that has not
// completed email verification.
func Unverified() *AppError {
	return &AppError{
		Err:     ErrUnverified,
		Message: "email not verified",
	}
}

// InvalidToken covers missing, wrong, expired and already consumed tokens.
// The message is the same for all of them.
func InvalidToken() *AppError {
	return &AppError{
		Err:     ErrToken,
		Message: "invalid or expired token",
	}
}

// Internal hides an infrastructure failure behind a stable message. The
// cause must be logged by the caller before it is discarded.
func Internal() *AppError {
	return &AppError{
		Err:     ErrInternal,
		Message: "an internal error occurred",
	}
}
