package resolver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"reeve/internal/httpkit"
)

// Backend is an opaque resolution tier: it takes a prompt and returns
// a reply string or fails. No richer contract is assumed — the local
// assistant and the agent-network orchestrator both hide behind this.
type Backend interface {
	Name() string
	Resolve(ctx context.Context, prompt string) (string, error)
}

// HTTPBackend resolves prompts against a simple JSON-over-HTTP
// endpoint: POST {"prompt": ...} answered by {"reply": ...}.
type HTTPBackend struct {
	name   string
	url    string
	token  string
	client *http.Client
}

// NewHTTPBackend creates a backend tier for the given endpoint. token,
// if non-empty, is sent as a bearer token. It is never logged.
func NewHTTPBackend(name, url, token string) *HTTPBackend {
	return &HTTPBackend{
		name:  name,
		url:   url,
		token: token,
		client: httpkit.NewClient(
			// Per-attempt bounding is the chain's job (tier timeout);
			// keep a generous safety net here.
			httpkit.WithTimeout(5 * time.Minute),
			httpkit.WithRetry(1, 250*time.Millisecond),
		),
	}
}

// Name returns the tier name.
func (b *HTTPBackend) Name() string { return b.name }

// Resolve posts the prompt and returns the reply text.
func (b *HTTPBackend) Resolve(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(map[string]string{"prompt": prompt})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if b.token != "" {
		req.Header.Set("Authorization", "Bearer "+b.token)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("API error %d: %s", resp.StatusCode,
			httpkit.ReadErrorBody(resp.Body, 2048))
	}

	var parsed struct {
		Reply string `json:"reply"`
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if parsed.Error != "" {
		return "", fmt.Errorf("backend error: %s", parsed.Error)
	}

	return parsed.Reply, nil
}
