// Package errors provides the structured error type shared by the store,
// the decision handlers and the HTTP layer.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorCode represents standardized internal error codes.
type ErrorCode string

// Validation / conflict / lookup errors. These are returned before any
// external call is made.
const (
	ErrCodeValidationFailed     ErrorCode = "VALIDATION_FAILED"
	ErrCodeNotFound             ErrorCode = "NOT_FOUND"
	ErrCodeDuplicateSubmission  ErrorCode = "DUPLICATE_SUBMISSION"
	ErrCodeAlreadyProcessed     ErrorCode = "ALREADY_PROCESSED"
	ErrCodeCooldownActive       ErrorCode = "COOLDOWN_ACTIVE"
	ErrCodeCandidateBlacklisted ErrorCode = "CANDIDATE_BLACKLISTED"
	ErrCodeUnauthorized         ErrorCode = "UNAUTHORIZED"
	ErrCodeRateLimited          ErrorCode = "RATE_LIMITED"
)

// Infrastructure errors.
const (
	ErrCodeStoreFailed         ErrorCode = "STORE_FAILED"
	ErrCodePlatformUnavailable ErrorCode = "PLATFORM_UNAVAILABLE"
	ErrCodeSearchFailed        ErrorCode = "SEARCH_FAILED"
	ErrCodeInternal            ErrorCode = "INTERNAL_ERROR"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	cause     error
}

func (e *StandardError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("StandardError[%s]: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause, if any.
func (e *StandardError) Unwrap() error {
	return e.cause
}

// Is matches another StandardError by code, so errors.Is(err, errors.New(Code, ""))
// and errors.Is(err, &StandardError{Code: ...}) both work.
func (e *StandardError) Is(target error) bool {
	t, ok := target.(*StandardError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithMetadata attaches a key to the error metadata and returns the error.
func (e *StandardError) WithMetadata(key string, value interface{}) *StandardError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// New creates a StandardError with the given code and message.
func New(code ErrorCode, message string) *StandardError {
	return &StandardError{
		Code:      code,
		Message:   message,
		Retryable: IsRetryable(code),
		Timestamp: time.Now().UTC(),
	}
}

// Wrap creates a StandardError that keeps err as its cause.
func Wrap(code ErrorCode, message string, err error) *StandardError {
	se := New(code, message)
	if err != nil {
		se.Details = err.Error()
		se.cause = err
	}
	return se
}

// ==========================
// Constructors
// ==========================

// NewValidationError creates a non-retryable validation error.
func NewValidationError(details string) *StandardError {
	se := New(ErrCodeValidationFailed, "Request validation failed")
	se.Details = details
	return se
}

// NewNotFoundError reports that no matching application exists.
func NewNotFoundError(candidateID string) *StandardError {
	se := New(ErrCodeNotFound, "Application not found")
	se.Details = fmt.Sprintf("candidateId: %s", candidateID)
	return se.WithMetadata("candidateId", candidateID)
}

// NewDuplicateSubmissionError reports an application that is already open.
func NewDuplicateSubmissionError(candidateID string) *StandardError {
	se := New(ErrCodeDuplicateSubmission, "Application already submitted")
	se.Details = fmt.Sprintf("candidateId: %s", candidateID)
	return se.WithMetadata("candidateId", candidateID)
}

// NewAlreadyProcessedError reports a decision that has already been applied.
func NewAlreadyProcessedError(candidateID string) *StandardError {
	se := New(ErrCodeAlreadyProcessed, "Candidate already whitelisted")
	se.Details = fmt.Sprintf("candidateId: %s", candidateID)
	return se.WithMetadata("candidateId", candidateID)
}

// NewCooldownActiveError reports a submission attempted during the cooldown window.
func NewCooldownActiveError(candidateID string, until time.Time) *StandardError {
	se := New(ErrCodeCooldownActive, "Cooldown still active after a failed screening")
	se.Details = fmt.Sprintf("candidateId: %s, cooldownUntil: %s", candidateID, until.UTC().Format(time.RFC3339))
	return se.WithMetadata("candidateId", candidateID).WithMetadata("cooldownUntil", until.UTC())
}

// NewCandidateBlacklistedError reports a submission from a blacklisted candidate.
func NewCandidateBlacklistedError(candidateID string) *StandardError {
	se := New(ErrCodeCandidateBlacklisted, "Candidate is blacklisted")
	se.Details = fmt.Sprintf("candidateId: %s", candidateID)
	return se.WithMetadata("candidateId", candidateID)
}

// NewStoreError creates a retryable persistence error.
func NewStoreError(operation string, err error) *StandardError {
	se := Wrap(ErrCodeStoreFailed, "Application store error", err)
	return se.WithMetadata("operation", operation)
}

// ==========================
// Classification helpers
// ==========================

// IsRetryable reports whether a caller may retry an operation failing with code.
func IsRetryable(code ErrorCode) bool {
	switch code {
	case ErrCodeStoreFailed, ErrCodePlatformUnavailable, ErrCodeSearchFailed:
		return true
	}
	return false
}

// CodeOf extracts the code from err, or ErrCodeInternal when err is not a
// StandardError.
func CodeOf(err error) ErrorCode {
	var se *StandardError
	if stderrors.As(err, &se) {
		return se.Code
	}
	return ErrCodeInternal
}

// HasCode reports whether err is a StandardError carrying code.
func HasCode(err error, code ErrorCode) bool {
	var se *StandardError
	return stderrors.As(err, &se) && se.Code == code
}

// HTTPStatus maps an error code to the HTTP status returned to callers.
func HTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodeValidationFailed:
		return http.StatusBadRequest
	case ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeDuplicateSubmission, ErrCodeAlreadyProcessed, ErrCodeCooldownActive, ErrCodeCandidateBlacklisted:
		return http.StatusConflict
	case ErrCodeRateLimited:
		return http.StatusTooManyRequests
	case ErrCodePlatformUnavailable:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// Normalize ensures callers always deal with a StandardError.
func Normalize(err error) *StandardError {
	if err == nil {
		return nil
	}
	var se *StandardError
	if stderrors.As(err, &se) {
		return se
	}
	return Wrap(ErrCodeInternal, "Unexpected error", err)
}
