package genclient

import (
	"net/http"

	"go.uber.org/zap"
)

// clientOptions holds the cross-cutting collaborators shared by Client and
// EmbeddingClient.
type clientOptions struct {
	logger     *zap.Logger
	metrics    *Metrics
	httpClient *http.Client
}

func defaultClientOptions() clientOptions {
	return clientOptions{logger: zap.NewNop()}
}

// Option configures a Client or EmbeddingClient.
type Option func(*clientOptions)

// WithLogger attaches a structured logger. Without it the clients are
// silent.
func WithLogger(logger *zap.Logger) Option {
	return func(o *clientOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics attaches a metrics collector.
func WithMetrics(m *Metrics) Option {
	return func(o *clientOptions) {
		o.metrics = m
	}
}

// WithHTTPClient replaces the underlying HTTP client. The per-attempt
// timeout is enforced through the request context, so the supplied client
// should not set its own competing Timeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *clientOptions) {
		if hc != nil {
			o.httpClient = hc
		}
	}
}
