package models

import (
	"errors"
	"fmt"
)

// ErrorKind is the taxonomy of typed failures that cross component
// boundaries. The Turn Orchestrator is the only place these get translated
// into a user-visible AgentEvent.Error.
type ErrorKind string

const (
	KindNoKeyConfigured     ErrorKind = "no_key_configured"
	KindModelNotFound       ErrorKind = "model_not_found"
	KindInvalidMaxTokens    ErrorKind = "invalid_max_tokens"
	KindProviderRateLimited ErrorKind = "provider_rate_limited"
	KindProviderTimeout     ErrorKind = "provider_timeout"
	KindProviderError       ErrorKind = "provider_error"
	KindToolNotAvailable    ErrorKind = "tool_not_available"
	KindApprovalRequired    ErrorKind = "approval_required"
	KindStorageError        ErrorKind = "storage_error"
	KindQuotaExceeded       ErrorKind = "quota_exceeded"
	KindSessionLimit        ErrorKind = "session_limit"
	KindExecutionTimeout    ErrorKind = "execution_timeout"
	KindCancelled           ErrorKind = "cancelled"
)

// Error is the common typed-error envelope used across the core. It wraps
// an underlying cause and tags it with a Kind so callers can branch with
// errors.As without string matching.
type Error struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// NewError constructs a typed Error.
func NewError(kind ErrorKind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Is reports whether err carries the given Kind.
func Is(err error, kind ErrorKind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// Retryable reports whether the gateway should retry once before giving up,
// per the error taxonomy in the spec's error handling design.
func Retryable(err error) bool {
	return Is(err, KindProviderRateLimited) || Is(err, KindProviderTimeout)
}
