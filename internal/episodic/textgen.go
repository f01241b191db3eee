package episodic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// OllamaTextGenerator implements TextGenerator against an Ollama-compatible
// /api/generate endpoint, the completion counterpart to the embedding HTTP
// client used elsewhere in this engine.
type OllamaTextGenerator struct {
	baseURL string
	model   string
	client  *http.Client
}

func NewOllamaTextGenerator(baseURL, model string, timeout time.Duration) *OllamaTextGenerator {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &OllamaTextGenerator{baseURL: baseURL, model: model, client: &http.Client{Timeout: timeout}}
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

func (g *OllamaTextGenerator) Complete(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(generateRequest{Model: g.model, Prompt: prompt, Stream: false})
	if err != nil {
		return "", fmt.Errorf("episodic: marshal generate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("episodic: build generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("episodic: generate request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("episodic: read generate response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("episodic: generate request failed with status %d: %s", resp.StatusCode, string(data))
	}

	var out generateResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("episodic: decode generate response: %w", err)
	}
	return out.Response, nil
}
