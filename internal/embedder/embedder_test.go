package embedder

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
)

func cosine(a, b []float32) float64 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

func TestHashDeterministic(t *testing.T) {
	h := NewHash(64)

	v1, err := h.Embed(context.Background(), "opened the editor")
	if err != nil {
		t.Fatalf("embedding: %v", err)
	}
	v2, err := h.Embed(context.Background(), "opened the editor")
	if err != nil {
		t.Fatalf("embedding: %v", err)
	}
	if !reflect.DeepEqual(v1, v2) {
		t.Fatal("same text produced different vectors")
	}
	if len(v1) != 64 {
		t.Fatalf("expected 64 dimensions, got %d", len(v1))
	}
}

func TestHashUnitNorm(t *testing.T) {
	h := NewHash(0)
	if h.Dimensions() != defaultHashDimensions {
		t.Fatalf("expected default dimensions, got %d", h.Dimensions())
	}

	vec, err := h.Embed(context.Background(), "system crashed unexpectedly during startup")
	if err != nil {
		t.Fatalf("embedding: %v", err)
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if math.Abs(norm-1) > 1e-5 {
		t.Fatalf("expected unit vector, squared norm %v", norm)
	}
}

func TestHashLexicalSimilarity(t *testing.T) {
	h := NewHash(256)
	ctx := context.Background()

	query, _ := h.Embed(ctx, "stability problems and crashes")
	related, _ := h.Embed(ctx, "system crashed unexpectedly")
	unrelated, _ := h.Embed(ctx, "opened Firefox browser")

	if cosine(query, related) <= cosine(query, unrelated) {
		t.Fatalf("expected crash-related text to rank closer: related=%v unrelated=%v",
			cosine(query, related), cosine(query, unrelated))
	}
}

func TestHashEmbedBatch(t *testing.T) {
	h := NewHash(32)

	vecs, err := h.EmbedBatch(context.Background(), []string{"one", "two"})
	if err != nil {
		t.Fatalf("batch embedding: %v", err)
	}
	if len(vecs) != 2 {
		t.Fatalf("expected 2 vectors, got %d", len(vecs))
	}

	vecs, err = h.EmbedBatch(context.Background(), nil)
	if err != nil || vecs != nil {
		t.Fatalf("expected nil result for empty input, got %v, %v", vecs, err)
	}
}

func newFakeOllama(t *testing.T, dim int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"models":[{"name":"nomic-embed-text:latest"}]}`))
		case "/api/embed":
			var req struct {
				Model string `json:"model"`
				Input string `json:"input"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			vec := make([]float32, dim)
			for i := range vec {
				vec[i] = float32(len(req.Input)%7) / 7
			}
			json.NewEncoder(w).Encode(map[string]any{"embeddings": [][]float32{vec}})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOllamaEmbed(t *testing.T) {
	srv := newFakeOllama(t, 8)
	o := NewOllama(srv.URL, "nomic-embed-text")

	if o.Dimensions() != 0 {
		t.Fatalf("expected unknown dimensions before first embed, got %d", o.Dimensions())
	}
	if !o.IsRunning(context.Background()) {
		t.Fatal("expected IsRunning true")
	}

	vec, err := o.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("embedding: %v", err)
	}
	if len(vec) != 8 {
		t.Fatalf("expected 8 dimensions, got %d", len(vec))
	}
	if o.Dimensions() != 8 {
		t.Fatalf("expected dimensions learned from first embed, got %d", o.Dimensions())
	}
	if o.ModelName() != "nomic-embed-text" {
		t.Fatalf("unexpected model name %q", o.ModelName())
	}
}

func TestOllamaEmbedBatch(t *testing.T) {
	srv := newFakeOllama(t, 4)
	o := NewOllama(srv.URL, "nomic-embed-text")

	vecs, err := o.EmbedBatch(context.Background(), []string{"a", "bb", "ccc"})
	if err != nil {
		t.Fatalf("batch embedding: %v", err)
	}
	if len(vecs) != 3 {
		t.Fatalf("expected 3 vectors, got %d", len(vecs))
	}
	for i, v := range vecs {
		if len(v) != 4 {
			t.Fatalf("vector %d has %d dimensions", i, len(v))
		}
	}
}

func TestOllamaNotRunning(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	o := NewOllama(srv.URL, "nomic-embed-text")
	if o.IsRunning(context.Background()) {
		t.Fatal("expected IsRunning false for closed server")
	}
	if _, err := o.Embed(context.Background(), "hello"); err == nil {
		t.Fatal("expected error embedding against closed server")
	}
}
