// Package loremserver is an in-process fake generation backend for
// development and testing without real API credentials. It speaks the same
// wire surface as the production backend: JSON and event-stream responses
// on /generate, the legacy /stream path, and batch vectors on /embed.
//
// Embedding vectors are deterministic functions of the input text, so the
// same text always embeds to the same vector (cosine similarity 1.0) and
// similarity-based callers behave predictably in tests.
package loremserver

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	loremgen "github.com/bozaro/golorem"

	"github.com/tidwall/gjson"
)

// Options tunes the fake backend.
type Options struct {
	// Dimensions is the embedding vector size. Default 64.
	Dimensions int

	// LegacyOnly makes /generate return 404 so clients exercise their
	// fallback to /stream.
	LegacyOnly bool

	// StreamDelay paces event-stream blocks. Default 0 (no pacing).
	StreamDelay time.Duration
}

// Server is the fake backend. Create one with New and mount Handler on an
// httptest.Server or any mux.
type Server struct {
	opts Options

	mu  sync.Mutex
	gen *loremgen.Lorem
}

// New creates a fake backend server.
func New(opts Options) *Server {
	if opts.Dimensions <= 0 {
		opts.Dimensions = 64
	}
	return &Server{opts: opts, gen: loremgen.New()}
}

// Handler returns the fake backend's HTTP surface.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/generate", s.handleGenerate)
	mux.HandleFunc("/stream", s.handleStream)
	mux.HandleFunc("/embed", s.handleEmbed)
	return mux
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if s.opts.LegacyOnly {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":{"message":"unknown path /generate"}}`)
		return
	}
	s.serveGeneration(w, r, false)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	s.serveGeneration(w, r, true)
}

func (s *Server) serveGeneration(w http.ResponseWriter, r *http.Request, forceStream bool) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body := readBody(r)
	prompt := gjson.GetBytes(body, "prompt").String()
	if prompt == "" {
		prompt = gjson.GetBytes(body, "contents").Raw
	}

	s.mu.Lock()
	text := s.gen.Sentence(8, 16)
	s.mu.Unlock()

	inputTokens := len(strings.Fields(prompt))
	outputTokens := len(strings.Fields(text))

	if forceStream || strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
		s.writeEventStream(w, text, inputTokens, outputTokens)
		return
	}

	usage := map[string]any{
		"promptTokenCount":     inputTokens,
		"candidatesTokenCount": outputTokens,
		"totalTokenCount":      inputTokens + outputTokens,
	}
	envelope := map[string]any{"usageMetadata": usage}
	if gjson.GetBytes(body, "responseSchema").Exists() || gjson.GetBytes(body, "schema").Exists() {
		envelope["object"] = map[string]any{"text": text}
	} else {
		envelope["candidates"] = []any{
			map[string]any{"content": map[string]any{
				"parts": []any{map[string]any{"text": text}},
			}},
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"data": envelope})
}

// writeEventStream emits the generated text word by word as text-delta
// blocks, then a finish block carrying usage.
func (s *Server) writeEventStream(w http.ResponseWriter, text string, inputTokens, outputTokens int) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	words := strings.Fields(text)
	for i, word := range words {
		delta := word
		if i < len(words)-1 {
			delta += " "
		}
		payload, _ := json.Marshal(map[string]any{"type": "text-delta", "textDelta": delta})
		fmt.Fprintf(w, "data: %s\n\n", payload)
		if flusher != nil {
			flusher.Flush()
		}
		if s.opts.StreamDelay > 0 {
			time.Sleep(s.opts.StreamDelay)
		}
	}

	payload, _ := json.Marshal(map[string]any{
		"type": "finish",
		"usage": map[string]any{
			"inputTokens":  inputTokens,
			"outputTokens": outputTokens,
			"totalTokens":  inputTokens + outputTokens,
		},
	})
	fmt.Fprintf(w, "data: %s\n\n", payload)
	fmt.Fprint(w, "data: [DONE]\n\n")
	if flusher != nil {
		flusher.Flush()
	}
}

func (s *Server) handleEmbed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body := readBody(r)
	texts := gjson.GetBytes(body, "texts")
	if !texts.IsArray() {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"message":"texts is required"}}`)
		return
	}

	var entries []map[string]any
	texts.ForEach(func(_, t gjson.Result) bool {
		entries = append(entries, map[string]any{
			"values": s.vectorFor(t.String()),
		})
		return true
	})

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"embeddings": entries})
}

// vectorFor derives a deterministic unit-scale vector from the normalized
// text, so equality of text implies equality of vector.
func (s *Server) vectorFor(text string) []float64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(strings.ToLower(strings.TrimSpace(text))))
	rng := rand.New(rand.NewSource(int64(h.Sum64())))

	vec := make([]float64, s.opts.Dimensions)
	for i := range vec {
		vec[i] = rng.Float64()*2 - 1
	}
	return vec
}

func readBody(r *http.Request) []byte {
	defer r.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	return body
}
