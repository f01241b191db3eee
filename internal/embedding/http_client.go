package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPEmbedder calls a remote embedding endpoint (e.g. an Ollama-style
// /api/embed, or a hosted embeddings API) over HTTP.
type HTTPEmbedder struct {
	baseURL    string
	client     *http.Client
	dimensions map[string]int
}

// HTTPEmbedderConfig configures HTTPEmbedder.
type HTTPEmbedderConfig struct {
	BaseURL string
	Timeout time.Duration
	// Dimensions declares the expected vector length per model, used to
	// validate responses and to answer Dimension without a round trip.
	Dimensions map[string]int
}

func NewHTTPEmbedder(cfg HTTPEmbedderConfig) *HTTPEmbedder {
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &HTTPEmbedder{
		baseURL:    cfg.BaseURL,
		client:     &http.Client{Timeout: cfg.Timeout},
		dimensions: cfg.Dimensions,
	}
}

type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

func (e *HTTPEmbedder) Embed(ctx context.Context, text string, model string) ([]float32, error) {
	body, err := json.Marshal(embedRequest{Model: model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("embedding: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("embedding: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embedding: backend returned status %d: %s", resp.StatusCode, string(b))
	}

	var parsed embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("embedding: decode response: %w", err)
	}
	if len(parsed.Embeddings) == 0 || len(parsed.Embeddings[0]) == 0 {
		return nil, fmt.Errorf("embedding: backend returned an empty vector")
	}

	vec := parsed.Embeddings[0]
	if want, ok := e.dimensions[model]; ok && want != len(vec) {
		return nil, fmt.Errorf("embedding: model %s returned dimension %d, expected %d", model, len(vec), want)
	}
	return vec, nil
}

func (e *HTTPEmbedder) Dimension(model string) int {
	return e.dimensions[model]
}
