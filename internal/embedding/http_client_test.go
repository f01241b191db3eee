package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPEmbedder_EmbedParsesResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req embedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Model != "nomic-embed-text" || req.Input != "hello" {
			t.Fatalf("unexpected request: %+v", req)
		}
		json.NewEncoder(w).Encode(embedResponse{Embeddings: [][]float32{{1, 2, 3}}})
	}))
	defer server.Close()

	embedder := NewHTTPEmbedder(HTTPEmbedderConfig{BaseURL: server.URL, Dimensions: map[string]int{"nomic-embed-text": 3}})
	vec, err := embedder.Embed(context.Background(), "hello", "nomic-embed-text")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 3 || vec[0] != 1 {
		t.Fatalf("unexpected vector: %v", vec)
	}
}

func TestHTTPEmbedder_EmbedRejectsDimensionMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(embedResponse{Embeddings: [][]float32{{1, 2}}})
	}))
	defer server.Close()

	embedder := NewHTTPEmbedder(HTTPEmbedderConfig{BaseURL: server.URL, Dimensions: map[string]int{"m1": 3}})
	_, err := embedder.Embed(context.Background(), "hello", "m1")
	if err == nil {
		t.Fatalf("expected dimension mismatch error")
	}
}

func TestHTTPEmbedder_EmbedPropagatesNonOKStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))
	defer server.Close()

	embedder := NewHTTPEmbedder(HTTPEmbedderConfig{BaseURL: server.URL})
	_, err := embedder.Embed(context.Background(), "hello", "m1")
	if err == nil {
		t.Fatalf("expected error for non-200 response")
	}
}

func TestHTTPEmbedder_EmbedRejectsEmptyVector(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(embedResponse{Embeddings: [][]float32{}})
	}))
	defer server.Close()

	embedder := NewHTTPEmbedder(HTTPEmbedderConfig{BaseURL: server.URL})
	_, err := embedder.Embed(context.Background(), "hello", "m1")
	if err == nil {
		t.Fatalf("expected error for empty embeddings response")
	}
}

func TestHTTPEmbedder_DimensionReadsDeclaredTable(t *testing.T) {
	embedder := NewHTTPEmbedder(HTTPEmbedderConfig{Dimensions: map[string]int{"m1": 768}})
	if got := embedder.Dimension("m1"); got != 768 {
		t.Fatalf("expected 768, got %d", got)
	}
	if got := embedder.Dimension("unknown"); got != 0 {
		t.Fatalf("expected 0 for unknown model, got %d", got)
	}
}
