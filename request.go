package genclient

import "time"

// GenerateRequest contains the parameters for one generation call.
// A request is immutable once handed to the client; retries reuse the same
// serialized payload.
type GenerateRequest struct {
	// Model is the model identifier forwarded to the backend
	// (e.g. "gemini-2.5-flash").
	Model string

	// Prompt is plain prompt text. Mutually exclusive with Contents;
	// when set, it is flattened into the payload's "prompt" field.
	Prompt string

	// Contents carries structured conversation contents. Passed through
	// verbatim when Prompt is empty.
	Contents any

	// ResponseSchema requests a structured (JSON) response conforming to
	// the given schema. Forwarded both as "responseSchema" and the legacy
	// "schema" top-level field for backend compatibility.
	ResponseSchema map[string]any

	// ResponseMIMEType requests a specific response MIME type
	// (e.g. "application/json").
	ResponseMIMEType string

	// ProviderOptions carries provider-specific knobs, forwarded verbatim.
	ProviderOptions map[string]any

	// Config holds any remaining backend config keys. Keys named
	// "responseSchema", "responseMimeType", or "providerOptions" are
	// hoisted to top level (the struct fields above win on conflict);
	// everything else is nested under the payload's "config" object.
	Config map[string]any

	// Timeout bounds each individual attempt. Zero falls back to the
	// client's configured timeout.
	Timeout time.Duration
}

// RetryPolicy controls how many times a generation call is attempted and
// how long to wait between attempts.
type RetryPolicy struct {
	// Attempts is the total number of attempts, including the first.
	// Values below 1 are treated as 1.
	Attempts int

	// BaseDelay is the base inter-attempt delay. Explicitly-retryable
	// failures (see IsRetryable) back off linearly: BaseDelay*(k+1) after
	// attempt k. Other failures wait a flat BaseDelay before the next
	// attempt, giving the backend a brief cooldown either way.
	BaseDelay time.Duration
}

// DefaultRetryPolicy is used when the caller passes a zero policy.
var DefaultRetryPolicy = RetryPolicy{Attempts: 3, BaseDelay: time.Second}

func (p RetryPolicy) attempts() int {
	if p.Attempts < 1 {
		return 1
	}
	return p.Attempts
}

// Delay returns the wait before the attempt following 0-indexed attempt k,
// given whether the failure was classified retryable.
func (p RetryPolicy) Delay(attempt int, retryable bool) time.Duration {
	if retryable {
		return p.BaseDelay * time.Duration(attempt+1)
	}
	return p.BaseDelay
}
