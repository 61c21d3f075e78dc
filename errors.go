package genclient

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors for common failure modes.
// These can be checked with errors.Is().
var (
	// ErrInvalidRequest indicates the request parameters are invalid.
	ErrInvalidRequest = errors.New("genclient: invalid request")

	// ErrBackendUnavailable indicates the generation backend is down or
	// shedding load. Errors wrapping this sentinel are retryable.
	ErrBackendUnavailable = errors.New("genclient: backend unavailable")

	// ErrExhaustedRetries indicates every attempt allowed by the retry
	// policy failed. The last underlying error is wrapped alongside it.
	ErrExhaustedRetries = errors.New("genclient: retries exhausted")

	// ErrNoEmbeddings indicates an embedding response carried no vectors
	// at any of the known nesting paths. This is a contract break with the
	// backend, not a transient condition, and is never retried.
	ErrNoEmbeddings = errors.New("genclient: no embeddings in response")
)

// TransportError represents a non-2xx HTTP response from the backend.
// The message embeds the status code so retry classification (which matches
// on substrings like "503") works on wrapped errors too.
type TransportError struct {
	Status int    // HTTP status code
	Detail string // Error detail parsed from the response body
}

func (e *TransportError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("genclient: backend returned status %d: %s", e.Status, e.Detail)
	}
	return fmt.Sprintf("genclient: backend returned status %d", e.Status)
}

func (e *TransportError) Unwrap() error {
	if e.Status == 503 {
		return ErrBackendUnavailable
	}
	return nil
}

// TimeoutError indicates an attempt was aborted by the per-attempt timer.
// Timed-out attempts are retried on non-final attempts with the flat
// cooldown delay.
type TimeoutError struct {
	Attempt int           // 0-indexed attempt that timed out
	Limit   time.Duration // The timeout that fired
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("genclient: attempt %d timed out after %s", e.Attempt, e.Limit)
}

// CancellationError indicates the caller's own context fired while a call
// was in flight. It is fatal: no further attempts are made once the caller
// has cancelled.
type CancellationError struct {
	Err error // The context error (context.Canceled or context.DeadlineExceeded)
}

func (e *CancellationError) Error() string {
	return fmt.Sprintf("genclient: call cancelled by caller: %v", e.Err)
}

func (e *CancellationError) Unwrap() error {
	return e.Err
}

// RetryError wraps the last underlying error after all attempts failed.
type RetryError struct {
	Attempts int   // Number of attempts made
	Last     error // The error from the final attempt
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("genclient: all %d attempts failed: %v", e.Attempts, e.Last)
}

func (e *RetryError) Unwrap() error {
	return e.Last
}

// Is reports ErrExhaustedRetries in addition to the wrapped chain, so both
// errors.Is(err, ErrExhaustedRetries) and checks against the final
// underlying error succeed.
func (e *RetryError) Is(target error) bool {
	return target == ErrExhaustedRetries
}

// EmbeddingShapeError indicates the embed response had no extractable
// vectors. Wraps ErrNoEmbeddings.
type EmbeddingShapeError struct {
	Detail string // What was looked for and what the body looked like
}

func (e *EmbeddingShapeError) Error() string {
	return fmt.Sprintf("genclient: embedding response shape unrecognized: %s", e.Detail)
}

func (e *EmbeddingShapeError) Unwrap() error {
	return ErrNoEmbeddings
}

// ValidationError represents an error in request parameter validation.
type ValidationError struct {
	Field  string // The parameter field that failed validation
	Reason string // Human-readable explanation
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("genclient: validation failed for '%s': %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidRequest
}

// IsRetryable reports whether an error indicates transient backend overload.
// Classification is by message substring: "503", "UNAVAILABLE", or a
// case-insensitive "overloaded". Everything else is treated as non-retryable,
// though non-final attempts still get a flat cooldown before the next try.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	if strings.Contains(msg, "503") || strings.Contains(msg, "UNAVAILABLE") {
		return true
	}
	return strings.Contains(strings.ToLower(msg), "overloaded")
}
