package genclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
)

func TestExtractEmbeddings_Shapes(t *testing.T) {
	tests := []struct {
		name string
		body string
		want [][]float64
	}{
		{
			name: "top-level embeddings of bare arrays",
			body: `{"embeddings":[[1,2],[3,4]]}`,
			want: [][]float64{{1, 2}, {3, 4}},
		},
		{
			name: "embeddings of values objects",
			body: `{"embeddings":[{"values":[1,2]},{"values":[3,4]}]}`,
			want: [][]float64{{1, 2}, {3, 4}},
		},
		{
			name: "data envelope",
			body: `{"data":{"embeddings":[[1,2]]}}`,
			want: [][]float64{{1, 2}},
		},
		{
			name: "data array of embedding objects",
			body: `{"data":[{"embedding":[1,2]},{"embedding":[3,4]}]}`,
			want: [][]float64{{1, 2}, {3, 4}},
		},
		{
			name: "singular embedding",
			body: `{"embedding":[5,6]}`,
			want: [][]float64{{5, 6}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := extractEmbeddings([]byte(tt.body))
			if err != nil {
				t.Fatalf("extractEmbeddings: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("extractEmbeddings() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExtractEmbeddings_ShapeError(t *testing.T) {
	for _, body := range []string{`{"foo":1}`, `not json`, `{"embeddings":[]}`} {
		_, err := extractEmbeddings([]byte(body))
		if !errors.Is(err, ErrNoEmbeddings) {
			t.Errorf("body %q: err = %v, want ErrNoEmbeddings", body, err)
		}
		var shapeErr *EmbeddingShapeError
		if !errors.As(err, &shapeErr) {
			t.Errorf("body %q: err = %v, want EmbeddingShapeError", body, err)
		}
	}
}

func TestEmbeddingClient_Embed(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embed" {
			t.Errorf("path = %s, want /embed", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"embeddings":[{"values":[1,0]},{"values":[0,1]}]}`)
	}))
	defer srv.Close()

	client, err := NewEmbeddingClient(&Config{BaseURL: srv.URL, APIToken: "tok"})
	if err != nil {
		t.Fatalf("NewEmbeddingClient: %v", err)
	}

	vectors, err := client.Embed(context.Background(), &EmbedRequest{
		Texts:                []string{"a", "b"},
		Model:                "gemini-embedding-001",
		TaskType:             "SEMANTIC_SIMILARITY",
		OutputDimensionality: 2,
		ProviderOptions:      map[string]any{"autoTruncate": true},
	})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vectors) != 2 {
		t.Fatalf("len(vectors) = %d, want 2", len(vectors))
	}

	if gotBody["model"] != "gemini-embedding-001" || gotBody["taskType"] != "SEMANTIC_SIMILARITY" {
		t.Errorf("request body = %v", gotBody)
	}
	po, _ := gotBody["providerOptions"].(map[string]any)
	if po == nil || po["google"] == nil {
		t.Errorf("providerOptions not nested under google: %v", gotBody["providerOptions"])
	}
}

func TestEmbeddingClient_Embed_Validation(t *testing.T) {
	client, err := NewEmbeddingClient(&Config{BaseURL: "http://localhost:1"})
	if err != nil {
		t.Fatalf("NewEmbeddingClient: %v", err)
	}
	if _, err := client.Embed(context.Background(), &EmbedRequest{Model: "m"}); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("empty texts: err = %v, want ErrInvalidRequest", err)
	}
	if _, err := client.Embed(context.Background(), &EmbedRequest{Texts: []string{"a"}}); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("empty model: err = %v, want ErrInvalidRequest", err)
	}
}

func TestEmbeddingClient_Embed_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, `{"error":{"message":"upstream broke"}}`)
	}))
	defer srv.Close()

	client, _ := NewEmbeddingClient(&Config{BaseURL: srv.URL})
	_, err := client.Embed(context.Background(), &EmbedRequest{Texts: []string{"a"}, Model: "m"})

	var transportErr *TransportError
	if !errors.As(err, &transportErr) || transportErr.Status != 502 || transportErr.Detail != "upstream broke" {
		t.Errorf("err = %v, want TransportError 502 with detail", err)
	}
}
