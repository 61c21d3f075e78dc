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

const embedPath = "/embed"

// EmbedRequest is a batch text-to-vector request. Batching texts into one
// call is the intended mode; the selector embeds a baseline and all of its
// candidates in a single round trip.
type EmbedRequest struct {
	// Texts to embed, in order. The response carries one vector per text.
	Texts []string

	// Model is the embedding model identifier.
	Model string

	// TaskType hints the backend at the retrieval task
	// (e.g. "SEMANTIC_SIMILARITY"). Optional.
	TaskType string

	// OutputDimensionality truncates vectors to the given size. Optional.
	OutputDimensionality int

	// ProviderOptions is forwarded nested under providerOptions.google.
	ProviderOptions map[string]any
}

// EmbeddingClient is the sibling transport for the backend's embed
// endpoint. It shares the generate client's header and auth conventions but
// is otherwise independent: embedding calls are single-attempt and fail
// fast, because a malformed embedding response is a contract break rather
// than a transient condition.
type EmbeddingClient struct {
	baseURL    string
	token      string
	timeout    time.Duration
	httpClient *http.Client
	logger     *zap.Logger
	metrics    *Metrics
}

// NewEmbeddingClient constructs an EmbeddingClient from Config.
func NewEmbeddingClient(cfg *Config, opts ...Option) (*EmbeddingClient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := defaultClientOptions()
	for _, opt := range opts {
		opt(&o)
	}
	hc := o.httpClient
	if hc == nil {
		hc = &http.Client{}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultEmbedTimeout
	}
	return &EmbeddingClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.APIToken,
		timeout:    timeout,
		httpClient: hc,
		logger:     o.logger,
		metrics:    o.metrics,
	}, nil
}

// Embed runs one batch embedding call and returns one vector per input
// text, in input order. Vectors are accepted at any of the response nesting
// shapes the backend has historically produced; when none yields vectors an
// EmbeddingShapeError (wrapping ErrNoEmbeddings) is returned.
func (c *EmbeddingClient) Embed(ctx context.Context, req *EmbedRequest) ([][]float64, error) {
	if len(req.Texts) == 0 {
		return nil, &ValidationError{Field: "texts", Reason: "must not be empty"}
	}
	if req.Model == "" {
		return nil, &ValidationError{Field: "model", Reason: "must not be empty"}
	}

	body := map[string]any{
		"texts": req.Texts,
		"model": req.Model,
	}
	if req.TaskType != "" {
		body["taskType"] = req.TaskType
	}
	if req.OutputDimensionality > 0 {
		body["outputDimensionality"] = req.OutputDimensionality
	}
	if req.ProviderOptions != nil {
		body["providerOptions"] = map[string]any{"google": req.ProviderOptions}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("genclient: encode embed payload: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.baseURL+embedPath, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.metrics.observeRequest("embed", "transport_error", time.Since(start).Seconds())
		if ctx.Err() != nil {
			return nil, &CancellationError{Err: ctx.Err()}
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &TimeoutError{Attempt: 0, Limit: c.timeout}
		}
		return nil, fmt.Errorf("genclient: embed request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		c.metrics.observeRequest("embed", "read_error", time.Since(start).Seconds())
		return nil, fmt.Errorf("genclient: read embed response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.metrics.observeRequest("embed", fmt.Sprintf("http_%d", resp.StatusCode), time.Since(start).Seconds())
		return nil, &TransportError{Status: resp.StatusCode, Detail: parseErrorDetail(raw)}
	}
	c.metrics.observeRequest("embed", "ok", time.Since(start).Seconds())

	vectors, err := extractEmbeddings(raw)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(req.Texts) {
		c.logger.Warn("embedding count does not match input count",
			zap.Int("texts", len(req.Texts)), zap.Int("vectors", len(vectors)))
	}
	return vectors, nil
}

// Embedding vector locations, shallowest first. Like the response
// normalizer, all historical shapes are kept until a backend version is
// confirmed dead.
var embeddingPaths = []string{
	"embeddings",
	"data.embeddings",
	"data.#.embedding",
}

// extractEmbeddings locates the vector array at one of the known nesting
// paths, accepting entries that are bare arrays or objects carrying a
// "values"/"embedding" field, plus the degenerate single-vector shape.
func extractEmbeddings(raw []byte) ([][]float64, error) {
	if !gjson.ValidBytes(raw) {
		return nil, &EmbeddingShapeError{Detail: "response body is not JSON"}
	}
	root := gjson.ParseBytes(raw)

	for _, path := range embeddingPaths {
		entries := root.Get(path)
		if !entries.IsArray() {
			continue
		}
		var out [][]float64
		entries.ForEach(func(_, entry gjson.Result) bool {
			if v := parseVector(entry); v != nil {
				out = append(out, v)
			}
			return true
		})
		if len(out) > 0 {
			return out, nil
		}
	}

	// Singular shape: one vector for one text.
	if v := parseVector(root.Get("embedding")); v != nil {
		return [][]float64{v}, nil
	}

	return nil, &EmbeddingShapeError{
		Detail: fmt.Sprintf("no vectors at %v or 'embedding'", embeddingPaths),
	}
}

// parseVector accepts either a bare number array or an object wrapping one
// under "values" or "embedding".
func parseVector(entry gjson.Result) []float64 {
	if entry.IsObject() {
		if v := entry.Get("values"); v.IsArray() {
			entry = v
		} else if v := entry.Get("embedding"); v.IsArray() {
			entry = v
		} else {
			return nil
		}
	}
	if !entry.IsArray() {
		return nil
	}
	var vec []float64
	entry.ForEach(func(_, n gjson.Result) bool {
		if n.Type == gjson.Number {
			vec = append(vec, n.Float())
		}
		return true
	})
	return vec
}
