package genclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// Backend paths. Current deployments serve /generate; older ones only
// expose /stream, so a 404 on the primary path is replayed there within
// the same attempt.
const (
	generatePath       = "/generate"
	legacyGeneratePath = "/stream"
)

// Client owns one logical "generate" call against the backend: payload
// construction, per-attempt timeout, retry with backoff, the legacy-path
// fallback, and normalization of whatever shape comes back (plain JSON or
// an event stream).
type Client struct {
	baseURL    string
	token      string
	timeout    time.Duration
	retry      RetryPolicy
	httpClient *http.Client
	logger     *zap.Logger
	metrics    *Metrics
}

// NewClient constructs a Client from Config.
func NewClient(cfg *Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := defaultClientOptions()
	for _, opt := range opts {
		opt(&o)
	}
	hc := o.httpClient
	if hc == nil {
		// No client-level Timeout: the per-attempt context governs, and a
		// competing transport timeout would break long streams.
		hc = &http.Client{}
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.APIToken,
		timeout:    cfg.timeout(),
		retry:      cfg.retry(),
		httpClient: hc,
		logger:     o.logger,
		metrics:    o.metrics,
	}, nil
}

// Generate runs one generation call under the client's configured retry
// policy. See GenerateWithRetry.
func (c *Client) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResult, error) {
	return c.GenerateWithRetry(ctx, req, c.retry)
}

// GenerateWithRetry runs one generation call under an explicit retry
// policy.
//
// Each attempt gets its own timeout, composed with the caller's context;
// whichever fires first aborts the in-flight request. A caller cancellation
// is fatal and stops the attempt loop immediately. Failed attempts wait
// BaseDelay*(k+1) when the failure looks like transient overload and a flat
// BaseDelay otherwise, then try again; after the final attempt the last
// error is returned wrapped in a RetryError.
func (c *Client) GenerateWithRetry(ctx context.Context, req *GenerateRequest, policy RetryPolicy) (*GenerateResult, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	payload, err := buildGeneratePayload(req)
	if err != nil {
		return nil, fmt.Errorf("genclient: encode payload: %w", err)
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.timeout
	}

	attempts := policy.attempts()
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		result, err := c.doGenerateAttempt(ctx, payload, timeout, attempt)
		if err == nil {
			c.metrics.addUsage(result.Usage())
			return result, nil
		}
		lastErr = err

		var cancelled *CancellationError
		if errors.As(err, &cancelled) {
			return nil, err
		}
		if attempt == attempts-1 {
			break
		}

		retryable := IsRetryable(err)
		delay := policy.Delay(attempt, retryable)
		c.logger.Warn("generation attempt failed",
			zap.Int("attempt", attempt),
			zap.Bool("retryable", retryable),
			zap.Duration("delay", delay),
			zap.Error(err))
		c.metrics.incRetry()

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, &CancellationError{Err: ctx.Err()}
		}
	}
	return nil, &RetryError{Attempts: attempts, Last: lastErr}
}

// doGenerateAttempt runs exactly one attempt: POST the primary path, replay
// on the legacy path after a 404, then branch on the response content type.
func (c *Client) doGenerateAttempt(ctx context.Context, payload []byte, timeout time.Duration, attempt int) (*GenerateResult, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.post(attemptCtx, c.baseURL+generatePath, payload)
	if err == nil && resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		c.metrics.incFallback()
		c.logger.Debug("generate path returned 404, replaying against legacy stream path")
		resp, err = c.post(attemptCtx, c.baseURL+legacyGeneratePath, payload)
	}
	if err != nil {
		c.metrics.observeRequest("generate", "transport_error", time.Since(start).Seconds())
		return nil, c.classifyRequestError(ctx, err, attempt, timeout)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		c.metrics.observeRequest("generate", fmt.Sprintf("http_%d", resp.StatusCode), time.Since(start).Seconds())
		return nil, &TransportError{Status: resp.StatusCode, Detail: parseErrorDetail(body)}
	}

	if strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream") {
		dec := NewStreamDecoder(c.logger)
		streamRes, err := dec.DecodeAll(attemptCtx, resp.Body)
		if err != nil {
			c.metrics.observeRequest("generate", "stream_error", time.Since(start).Seconds())
			return nil, c.classifyRequestError(ctx, err, attempt, timeout)
		}
		c.metrics.observeRequest("generate", "ok", time.Since(start).Seconds())
		result := applyEmbeddedStream(GenerateResult{
			Text:          streamRes.Text,
			Object:        streamRes.Object,
			UsageMetadata: streamRes.UsageMetadata,
		})
		return &result, nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.metrics.observeRequest("generate", "read_error", time.Since(start).Seconds())
		return nil, c.classifyRequestError(ctx, err, attempt, timeout)
	}
	c.metrics.observeRequest("generate", "ok", time.Since(start).Seconds())
	result := NormalizeResponse(body)
	return &result, nil
}

// classifyRequestError separates the three abort causes of an attempt:
// the caller's own context (fatal), the per-attempt timer (retried with
// flat cooldown), and plain transport failure.
func (c *Client) classifyRequestError(callerCtx context.Context, err error, attempt int, timeout time.Duration) error {
	if callerCtx.Err() != nil {
		return &CancellationError{Err: callerCtx.Err()}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Attempt: attempt, Limit: timeout}
	}
	return fmt.Errorf("genclient: request failed: %w", err)
}

func (c *Client) post(ctx context.Context, url string, payload []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return c.httpClient.Do(req)
}

func validateRequest(req *GenerateRequest) error {
	if req == nil {
		return &ValidationError{Field: "request", Reason: "must not be nil"}
	}
	if req.Model == "" {
		return &ValidationError{Field: "model", Reason: "must not be empty"}
	}
	if req.Prompt == "" && req.Contents == nil {
		return &ValidationError{Field: "prompt", Reason: "either prompt or contents is required"}
	}
	return nil
}

// buildGeneratePayload flattens a request into the backend's wire shape.
// responseSchema, responseMimeType, and providerOptions are forwarded as
// top-level fields even when supplied inside the generic config map; the
// schema is additionally duplicated under the legacy "schema" key because
// older backends only read that one. Remaining config keys nest under
// "config".
func buildGeneratePayload(req *GenerateRequest) ([]byte, error) {
	body := map[string]any{"model": req.Model}
	if req.Prompt != "" {
		body["prompt"] = req.Prompt
	} else if req.Contents != nil {
		body["contents"] = req.Contents
	}

	cfg := make(map[string]any, len(req.Config))
	for k, v := range req.Config {
		cfg[k] = v
	}
	hoist := func(key string, explicit any, set bool) any {
		fromCfg, inCfg := cfg[key]
		delete(cfg, key)
		if set {
			return explicit
		}
		if inCfg {
			return fromCfg
		}
		return nil
	}

	if schema := hoist("responseSchema", req.ResponseSchema, req.ResponseSchema != nil); schema != nil {
		body["responseSchema"] = schema
		body["schema"] = schema
	}
	if mime := hoist("responseMimeType", req.ResponseMIMEType, req.ResponseMIMEType != ""); mime != nil {
		body["responseMimeType"] = mime
	}
	if po := hoist("providerOptions", req.ProviderOptions, req.ProviderOptions != nil); po != nil {
		body["providerOptions"] = po
	}
	if len(cfg) > 0 {
		body["config"] = cfg
	}
	return json.Marshal(body)
}

// parseErrorDetail pulls a human-readable message out of an error body,
// JSON or plain text.
func parseErrorDetail(body []byte) string {
	if gjson.ValidBytes(body) {
		j := gjson.ParseBytes(body)
		for _, path := range []string{"error.message", "error", "message", "detail"} {
			if v := j.Get(path); v.Type == gjson.String && v.String() != "" {
				return v.String()
			}
		}
	}
	return strings.TrimSpace(string(body))
}
