package core

import (
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// Predefined Error Values
// =============================================================================

var (
	// Transient service errors. The gateway retries these with backoff.
	ErrRateLimited  = errors.New("rate limited")
	ErrTimeout      = errors.New("operation timed out")
	ErrNetworkError = errors.New("network error")
	ErrServerError  = errors.New("server error")

	// Authentication and configuration errors. Never retried.
	ErrAuth         = errors.New("authentication failed")
	ErrNoAPIKey     = errors.New("API key not configured")
	ErrInvalidInput = errors.New("invalid input")

	// Malformed output. Retried only by stage budgets, never by the gateway.
	ErrTruncated       = errors.New("response truncated by length limit")
	ErrMalformedOutput = errors.New("malformed structured output")
	ErrChapterCount    = errors.New("chapter count mismatch")

	// Completeness violations. Always fatal to the whole story.
	ErrMissingChapter = errors.New("missing chapter")

	// Brief queue.
	ErrNoQueuedBrief     = errors.New("no queued brief")
	ErrBriefNotClaimable = errors.New("brief is not claimable")
	ErrBriefNotFound     = errors.New("brief not found")
)

// =============================================================================
// Core Error Types
// =============================================================================

// StageError records a pipeline stage that exhausted its attempts.
type StageError struct {
	Stage     string
	Attempt   int
	Cause     error
	Timestamp time.Time
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s failed (attempt %d): %v", e.Stage, e.Attempt, e.Cause)
}

func (e *StageError) Unwrap() error {
	return e.Cause
}

// NewStageError creates a new StageError with timestamp
func NewStageError(stage string, attempt int, cause error) *StageError {
	return &StageError{
		Stage:     stage,
		Attempt:   attempt,
		Cause:     cause,
		Timestamp: time.Now(),
	}
}

// ValidationError represents a structured output that failed its shape check.
type ValidationError struct {
	Stage   string
	Field   string
	Message string
	Value   interface{}
}

func (e *ValidationError) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("validation failed in %s.%s: %s", e.Stage, e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed for %s: %s (value: %v)", e.Field, e.Message, e.Value)
}

// Unwrap lets callers match shape failures as malformed output.
func (e *ValidationError) Unwrap() error {
	return ErrMalformedOutput
}

// NewValidationError creates a new ValidationError
func NewValidationError(stage, field, message string, value interface{}) *ValidationError {
	return &ValidationError{
		Stage:   stage,
		Field:   field,
		Message: message,
		Value:   value,
	}
}

// APIError carries the HTTP status of a failed completion call.
type APIError struct {
	StatusCode int
	Body       string
	Kind       error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Body)
}

func (e *APIError) Unwrap() error {
	return e.Kind
}

// =============================================================================
// Error Classification Functions
// =============================================================================

// IsRetryable reports whether err belongs to the transient class.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if IsTerminal(err) {
		return false
	}
	return errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrNetworkError) ||
		errors.Is(err, ErrServerError)
}

// IsTerminal reports whether err is an authentication or configuration
// failure that must never be retried.
func IsTerminal(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrAuth) ||
		errors.Is(err, ErrNoAPIKey) ||
		errors.Is(err, ErrInvalidInput)
}

// IsMalformed reports whether err is a malformed-output error eligible for
// a stage's own retry-with-variation budget.
func IsMalformed(err error) bool {
	return errors.Is(err, ErrMalformedOutput) ||
		errors.Is(err, ErrTruncated) ||
		errors.Is(err, ErrChapterCount)
}

// ClassifyStatus maps an HTTP status code to a sentinel error.
func ClassifyStatus(status int) error {
	switch {
	case status == 401 || status == 403:
		return ErrAuth
	case status == 408:
		return ErrTimeout
	case status == 429:
		return ErrRateLimited
	case status >= 500:
		return ErrServerError
	default:
		return ErrInvalidInput
	}
}
