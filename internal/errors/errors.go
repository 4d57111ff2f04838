package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unique error identifier
type ErrorCode string

const (
	// Session lifecycle
	ErrCodeChannelNotReady  ErrorCode = "CHANNEL_NOT_READY"
	ErrCodeTerminalLogout   ErrorCode = "TERMINAL_LOGOUT"
	ErrCodeTransientNetwork ErrorCode = "TRANSIENT_NETWORK"
	ErrCodeAlreadyConnected ErrorCode = "ALREADY_CONNECTED"

	// Credentials
	ErrCodeCredentialDecode ErrorCode = "CREDENTIAL_DECODE"

	// Ingestion
	ErrCodeMediaFetch  ErrorCode = "MEDIA_FETCH"
	ErrCodePersistence ErrorCode = "PERSISTENCE_ERROR"

	// Validation
	ErrCodeValidation      ErrorCode = "VALIDATION_ERROR"
	ErrCodeInvalidInput    ErrorCode = "INVALID_INPUT"
	ErrCodeMissingRequired ErrorCode = "MISSING_REQUIRED"

	// Resource
	ErrCodeNotFound ErrorCode = "NOT_FOUND"
	ErrCodeConflict ErrorCode = "CONFLICT"

	// Internal
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
	ErrCodeDatabase ErrorCode = "DATABASE_ERROR"
	ErrCodeEngine   ErrorCode = "ENGINE_ERROR"
)

// AppError is a structured error that can be returned to clients
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details any       `json:"details,omitempty"`
	cause   error
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.cause
}

// WithCause adds a cause to the error
func (e *AppError) WithCause(err error) *AppError {
	e.cause = err
	return e
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

// New creates a new AppError
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an AppError
func Wrap(code ErrorCode, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		cause:   cause,
	}
}

// Common error constructors

// ChannelNotReady signals that no authenticated connection exists for the
// account. Surfaced to callers as a retryable service-unavailable condition.
func ChannelNotReady(accountID string) *AppError {
	return New(ErrCodeChannelNotReady, fmt.Sprintf("No ready connection for account %s", accountID))
}

// TerminalLogout marks an account whose session was ended by the remote side.
// The account cannot reconnect without re-pairing.
func TerminalLogout(accountID string) *AppError {
	return New(ErrCodeTerminalLogout, fmt.Sprintf("Account %s is logged out", accountID))
}

func TransientNetwork(cause error) *AppError {
	return Wrap(ErrCodeTransientNetwork, "Transient network failure", cause)
}

func AlreadyConnected(accountID string) *AppError {
	return New(ErrCodeAlreadyConnected, fmt.Sprintf("Account %s already has a live session", accountID))
}

// CredentialDecode marks a corrupt persisted credential record. Callers treat
// the record as absent and reinitialize; this is never fatal.
func CredentialDecode(key string, cause error) *AppError {
	return Wrap(ErrCodeCredentialDecode, fmt.Sprintf("Corrupt credential record %q", key), cause)
}

func MediaFetch(cause error) *AppError {
	return Wrap(ErrCodeMediaFetch, "Failed to fetch media payload", cause)
}

func Persistence(op string, cause error) *AppError {
	return Wrap(ErrCodePersistence, fmt.Sprintf("Persistence failure: %s", op), cause)
}

func NotFound(resource string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource))
}

func ValidationError(message string) *AppError {
	return New(ErrCodeValidation, message)
}

func InvalidInput(field string, reason string) *AppError {
	return New(ErrCodeInvalidInput, fmt.Sprintf("Invalid %s: %s", field, reason))
}

func MissingRequired(field string) *AppError {
	return New(ErrCodeMissingRequired, fmt.Sprintf("%s is required", field))
}

func Internal(message string) *AppError {
	return New(ErrCodeInternal, message)
}

func Database(cause error) *AppError {
	return Wrap(ErrCodeDatabase, "Database error", cause)
}

func Engine(cause error) *AppError {
	return Wrap(ErrCodeEngine, "Protocol engine error", cause)
}

// IsAppError checks if an error is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// AsAppError converts an error to an AppError if possible
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// GetCode returns the error code if the error is an AppError, otherwise returns ErrCodeInternal
func GetCode(err error) ErrorCode {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code
	}
	return ErrCodeInternal
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code ErrorCode) bool {
	return GetCode(err) == code
}
