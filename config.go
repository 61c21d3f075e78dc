package genclient

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Default tuning constants.
const (
	// DefaultTimeout bounds a single generation attempt.
	DefaultTimeout = 60 * time.Second

	// defaultEmbedTimeout bounds one embedding request. Embedding calls
	// are small and should fail fast.
	defaultEmbedTimeout = 30 * time.Second
)

// Config carries the connection settings shared by Client and
// EmbeddingClient. The engine never reads configuration from globals; the
// application layer builds a Config (from env, flags, or its own settings
// store) and passes it in.
type Config struct {
	// BaseURL is the root of the generation backend, without a trailing
	// slash (e.g. "https://gen.internal.inkdraft.dev/api").
	BaseURL string

	// APIToken, when set, is attached as a bearer token.
	APIToken string

	// Timeout bounds each attempt. Zero means DefaultTimeout.
	Timeout time.Duration

	// Retry is the default retry policy for Generate calls. A zero value
	// means DefaultRetryPolicy.
	Retry RetryPolicy
}

// NewConfigFromEnv reads connection settings from environment variables:
//
//   - GENAI_BASE_URL (required)
//   - GENAI_API_TOKEN
//   - GENAI_HTTP_TIMEOUT_SECONDS (default 60)
//   - GENAI_RETRY_ATTEMPTS (default 3)
//   - GENAI_RETRY_BASE_DELAY_MS (default 1000)
func NewConfigFromEnv() *Config {
	cfg := &Config{
		BaseURL:  os.Getenv("GENAI_BASE_URL"),
		APIToken: os.Getenv("GENAI_API_TOKEN"),
		Timeout:  DefaultTimeout,
		Retry:    DefaultRetryPolicy,
	}
	if v := os.Getenv("GENAI_HTTP_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Timeout = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("GENAI_RETRY_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 1 {
			cfg.Retry.Attempts = n
		}
	}
	if v := os.Getenv("GENAI_RETRY_BASE_DELAY_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.Retry.BaseDelay = time.Duration(n) * time.Millisecond
		}
	}
	return cfg
}

// Validate ensures required fields are present.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("genclient: missing base URL")
	}
	return nil
}

func (c *Config) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return DefaultTimeout
}

func (c *Config) retry() RetryPolicy {
	if c.Retry.Attempts == 0 && c.Retry.BaseDelay == 0 {
		return DefaultRetryPolicy
	}
	return c.Retry
}
