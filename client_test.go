package genclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.Handler, cfg Config) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cfg.BaseURL = srv.URL
	client, err := NewClient(&cfg)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client, srv
}

func TestClient_Generate_JSONResponse(t *testing.T) {
	var gotAuth, gotContentType string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotContentType = r.Header.Get("Content-Type")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"data":{"candidates":[{"content":{"parts":[{"text":"hi"}]}}],"usageMetadata":{"promptTokenCount":3,"candidatesTokenCount":1,"totalTokenCount":4}}}`)
	})
	client, _ := newTestClient(t, handler, Config{APIToken: "secret"})

	res, err := client.Generate(context.Background(), &GenerateRequest{Model: "gemini-2.5-flash", Prompt: "hello"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.Text != "hi" {
		t.Errorf("Text = %q, want hi", res.Text)
	}
	if usage := res.Usage(); usage != (TokenUsage{InputTokens: 3, OutputTokens: 1, TotalTokens: 4}) {
		t.Errorf("usage = %+v", usage)
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotContentType != "application/json" {
		t.Errorf("Content-Type = %q", gotContentType)
	}
}

// End-to-end 404 fallback: /generate is unknown, /stream answers with an
// event stream.
func TestClient_Generate_LegacyFallbackStream(t *testing.T) {
	var generateCalls, streamCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/generate", func(w http.ResponseWriter, r *http.Request) {
		generateCalls.Add(1)
		http.NotFound(w, r)
	})
	mux.HandleFunc("/stream", func(w http.ResponseWriter, r *http.Request) {
		streamCalls.Add(1)
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"type\":\"text-delta\",\"textDelta\":\"Hello \"}\n\n")
		fmt.Fprint(w, "data: {\"type\":\"text-delta\",\"textDelta\":\"world\"}\n\n")
		fmt.Fprint(w, "data: {\"type\":\"finish\",\"usage\":{\"totalTokens\":42}}\n\n")
	})
	client, _ := newTestClient(t, mux, Config{})

	res, err := client.Generate(context.Background(), &GenerateRequest{Model: "m", Prompt: "p"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.Text != "Hello world" {
		t.Errorf("Text = %q, want %q", res.Text, "Hello world")
	}
	usage := res.Usage()
	if usage.TotalTokens != 42 || usage.InputTokens != 42 || usage.OutputTokens != 0 {
		t.Errorf("usage = %+v, want input=total=42", usage)
	}
	if generateCalls.Load() != 1 || streamCalls.Load() != 1 {
		t.Errorf("calls = %d/%d, want one each (fallback within the attempt)", generateCalls.Load(), streamCalls.Load())
	}
}

func TestClient_Generate_RetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprint(w, `{"error":{"message":"Service Unavailable"}}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"text":"recovered"}`)
	})
	client, _ := newTestClient(t, handler, Config{})

	start := time.Now()
	policy := RetryPolicy{Attempts: 3, BaseDelay: 20 * time.Millisecond}
	res, err := client.GenerateWithRetry(context.Background(), &GenerateRequest{Model: "m", Prompt: "p"}, policy)
	if err != nil {
		t.Fatalf("GenerateWithRetry: %v", err)
	}
	if res.Text != "recovered" {
		t.Errorf("Text = %q", res.Text)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
	// Linear backoff for retryable failures: 20ms then 40ms.
	if elapsed := time.Since(start); elapsed < 60*time.Millisecond {
		t.Errorf("elapsed = %s, want >= 60ms of backoff", elapsed)
	}
}

func TestClient_Generate_ExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, "overloaded")
	})
	client, _ := newTestClient(t, handler, Config{})

	policy := RetryPolicy{Attempts: 3, BaseDelay: time.Millisecond}
	_, err := client.GenerateWithRetry(context.Background(), &GenerateRequest{Model: "m", Prompt: "p"}, policy)
	if err == nil {
		t.Fatal("expected error after exhaustion")
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want exactly 3 attempts", calls.Load())
	}
	if !errors.Is(err, ErrExhaustedRetries) {
		t.Errorf("errors.Is(ErrExhaustedRetries) = false for %v", err)
	}
	var transportErr *TransportError
	if !errors.As(err, &transportErr) || transportErr.Status != 503 {
		t.Errorf("underlying error = %v, want TransportError 503", err)
	}
}

// Non-retryable failures still get every attempt, with the flat cooldown.
func TestClient_Generate_NonRetryableStillRetried(t *testing.T) {
	var calls atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"message":"bad prompt"}}`)
	})
	client, _ := newTestClient(t, handler, Config{})

	policy := RetryPolicy{Attempts: 2, BaseDelay: time.Millisecond}
	_, err := client.GenerateWithRetry(context.Background(), &GenerateRequest{Model: "m", Prompt: "p"}, policy)
	if err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
	var transportErr *TransportError
	if !errors.As(err, &transportErr) || transportErr.Detail != "bad prompt" {
		t.Errorf("err = %v, want parsed detail 'bad prompt'", err)
	}
}

func TestClient_Generate_CallerCancellationIsFatal(t *testing.T) {
	var calls atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		time.Sleep(500 * time.Millisecond)
	})
	client, _ := newTestClient(t, handler, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	policy := RetryPolicy{Attempts: 3, BaseDelay: time.Millisecond}
	_, err := client.GenerateWithRetry(ctx, &GenerateRequest{Model: "m", Prompt: "p"}, policy)

	var cancelled *CancellationError
	if !errors.As(err, &cancelled) {
		t.Fatalf("err = %v, want CancellationError", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1 (no retry after caller cancel)", calls.Load())
	}
}

func TestClient_Generate_AttemptTimeout(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	})
	client, _ := newTestClient(t, handler, Config{})

	policy := RetryPolicy{Attempts: 1, BaseDelay: time.Millisecond}
	_, err := client.GenerateWithRetry(context.Background(),
		&GenerateRequest{Model: "m", Prompt: "p", Timeout: 30 * time.Millisecond}, policy)

	var timeoutErr *TimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("err = %v, want TimeoutError", err)
	}
}

func TestClient_Generate_Validation(t *testing.T) {
	client, _ := newTestClient(t, http.NotFoundHandler(), Config{})

	tests := []struct {
		name string
		req  *GenerateRequest
	}{
		{"nil request", nil},
		{"missing model", &GenerateRequest{Prompt: "p"}},
		{"missing prompt and contents", &GenerateRequest{Model: "m"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := client.Generate(context.Background(), tt.req)
			if !errors.Is(err, ErrInvalidRequest) {
				t.Errorf("err = %v, want ErrInvalidRequest", err)
			}
		})
	}
}

func TestBuildGeneratePayload(t *testing.T) {
	req := &GenerateRequest{
		Model:            "m",
		Prompt:           "p",
		ResponseSchema:   map[string]any{"type": "object"},
		ResponseMIMEType: "application/json",
		Config: map[string]any{
			"temperature":     0.2,
			"providerOptions": map[string]any{"google": map[string]any{"k": "v"}},
		},
	}
	payload, err := buildGeneratePayload(req)
	if err != nil {
		t.Fatalf("buildGeneratePayload: %v", err)
	}
	var body map[string]any
	if err := json.Unmarshal(payload, &body); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}

	if body["prompt"] != "p" || body["model"] != "m" {
		t.Errorf("model/prompt missing: %v", body)
	}
	// Schema duplicated under the legacy key.
	if body["responseSchema"] == nil || body["schema"] == nil {
		t.Errorf("schema not duplicated: %v", body)
	}
	if body["responseMimeType"] != "application/json" {
		t.Errorf("responseMimeType = %v", body["responseMimeType"])
	}
	// providerOptions hoisted out of config to top level.
	if body["providerOptions"] == nil {
		t.Errorf("providerOptions not hoisted: %v", body)
	}
	cfg, _ := body["config"].(map[string]any)
	if cfg == nil || cfg["temperature"] == nil {
		t.Errorf("leftover config keys not nested: %v", body)
	}
	if _, ok := cfg["providerOptions"]; ok {
		t.Error("providerOptions should be removed from nested config")
	}
}

func TestBuildGeneratePayload_StructuredContents(t *testing.T) {
	req := &GenerateRequest{
		Model:    "m",
		Contents: []map[string]any{{"role": "user", "parts": []any{map[string]any{"text": "hi"}}}},
	}
	payload, err := buildGeneratePayload(req)
	if err != nil {
		t.Fatalf("buildGeneratePayload: %v", err)
	}
	var body map[string]any
	_ = json.Unmarshal(payload, &body)
	if body["contents"] == nil {
		t.Errorf("contents not forwarded: %v", body)
	}
	if _, ok := body["prompt"]; ok {
		t.Error("prompt should be absent for structured contents")
	}
}
