// Package merchant provides domain types for the remote merchant platform integration.
package merchant

import (
	"errors"
	"fmt"
	"time"
)

// Standard domain errors.
var (
	ErrTransport     = errors.New("transport failure calling merchant API")
	ErrAPIRejected   = errors.New("merchant API rejected the request")
	ErrDecode        = errors.New("malformed merchant API response")
	ErrQuotaExceeded = errors.New("daily API quota exceeded")
	ErrValidation    = errors.New("invalid local entity data")
	ErrMapping       = errors.New("remote record cannot be mapped to a local entity")
)

// ErrorKind classifies failures of remote calls and sync processing.
type ErrorKind string

const (
	KindTransport     ErrorKind = "transport_error"
	KindAPI           ErrorKind = "api_error"
	KindDecode        ErrorKind = "decode_error"
	KindQuotaExceeded ErrorKind = "quota_exceeded"
	KindValidation    ErrorKind = "validation_error"
	KindMapping       ErrorKind = "mapping_error"
)

// String returns the string representation of the error kind.
func (k ErrorKind) String() string {
	return string(k)
}

// IsRetryable returns true if errors of this kind are safe to retry.
// Validation and mapping failures are permanent; quota refusals are only
// retryable after the counter resets, which callers handle separately.
func (k ErrorKind) IsRetryable() bool {
	switch k {
	case KindTransport, KindAPI, KindDecode:
		return true
	default:
		return false
	}
}

// SyncError is the structured error returned by the remote call facade and
// the sync services built on top of it.
type SyncError struct {
	Kind       ErrorKind `json:"kind"`
	Message    string    `json:"message"`
	Action     string    `json:"action,omitempty"`
	StatusCode int       `json:"-"`
	// ResetAt is set for quota_exceeded errors so callers can back off
	// until the counter rolls over.
	ResetAt time.Time `json:"reset_at,omitempty"`
	cause   error
}

// Error implements the error interface.
func (e *SyncError) Error() string {
	if e.Action != "" {
		return fmt.Sprintf("merchant [%s] %s: %s", e.Kind, e.Action, e.Message)
	}
	return fmt.Sprintf("merchant [%s]: %s", e.Kind, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is/As chains.
func (e *SyncError) Unwrap() error {
	return e.cause
}

// Is implements errors.Is against the package sentinels.
func (e *SyncError) Is(target error) bool {
	switch target {
	case ErrTransport:
		return e.Kind == KindTransport
	case ErrAPIRejected:
		return e.Kind == KindAPI
	case ErrDecode:
		return e.Kind == KindDecode
	case ErrQuotaExceeded:
		return e.Kind == KindQuotaExceeded
	case ErrValidation:
		return e.Kind == KindValidation
	case ErrMapping:
		return e.Kind == KindMapping
	default:
		return false
	}
}

// IsRetryable reports whether this error is safe to retry in-place.
func (e *SyncError) IsRetryable() bool {
	if e.Kind == KindAPI {
		// Quota/auth rejections from the remote side are not retryable
		// until the operator intervenes or the quota resets.
		return e.StatusCode != 401 && e.StatusCode != 403 && e.StatusCode != 429
	}
	return e.Kind.IsRetryable()
}

// NewTransportError wraps a network or timeout failure.
func NewTransportError(action string, cause error) *SyncError {
	return &SyncError{
		Kind:    KindTransport,
		Message: cause.Error(),
		Action:  action,
		cause:   cause,
	}
}

// NewAPIError wraps a non-2xx or remote-rejected response.
func NewAPIError(action, message string, statusCode int) *SyncError {
	return &SyncError{
		Kind:       KindAPI,
		Message:    message,
		Action:     action,
		StatusCode: statusCode,
	}
}

// NewDecodeError wraps a malformed response body.
func NewDecodeError(action string, cause error) *SyncError {
	return &SyncError{
		Kind:    KindDecode,
		Message: cause.Error(),
		Action:  action,
		cause:   cause,
	}
}

// NewQuotaExceededError reports a refused admission with the time the
// quota counter resets.
func NewQuotaExceededError(action string, resetAt time.Time) *SyncError {
	return &SyncError{
		Kind:    KindQuotaExceeded,
		Message: fmt.Sprintf("quota exhausted, resets in %s", time.Until(resetAt).Round(time.Second)),
		Action:  action,
		ResetAt: resetAt,
	}
}

// NewValidationError reports bad local entity data that must never be retried.
func NewValidationError(message string) *SyncError {
	return &SyncError{Kind: KindValidation, Message: message}
}

// NewMappingError reports a remote identifier that resolved to no local entity.
func NewMappingError(remoteID string) *SyncError {
	return &SyncError{
		Kind:    KindMapping,
		Message: fmt.Sprintf("no local entity for remote offer %q", remoteID),
	}
}
