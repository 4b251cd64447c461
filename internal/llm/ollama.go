// Package llm implements the direct model endpoint client. It speaks the
// Ollama-style chat protocol: a JSON POST answered by newline-delimited
// JSON fragments that each carry a slice of the reply.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"reeve/internal/httpkit"
)

// DefaultBaseURL is used when no endpoint is configured.
const DefaultBaseURL = "http://localhost:11434"

// maxResponseBytes bounds how much of a chat response we will read.
const maxResponseBytes int64 = 16 * 1024 * 1024

// Message is a chat message in the wire format.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the request body for the chat endpoint.
type ChatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
}

// chatFragment is one newline-delimited JSON line of the response.
// Only message.content matters for assembly; everything else is ignored.
type chatFragment struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done bool `json:"done"`
}

// Progress receives per-fragment updates during reply assembly.
// percent is fraction-complete in [0,1] (fragment index over total);
// status is a short human-readable note, prefixed "error:" for a
// malformed fragment.
type Progress func(percent float64, status string)

// OllamaClient talks to an Ollama-compatible chat endpoint.
type OllamaClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewOllamaClient creates a client for the given base URL.
// An empty baseURL falls back to [DefaultBaseURL].
func NewOllamaClient(baseURL string) *OllamaClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &OllamaClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		// Zero client timeout: large models stream for minutes. The
		// transport's dial and header timeouts still bound a dead peer,
		// and the caller's ctx bounds the overall attempt.
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(0),
			httpkit.WithRetry(2, 500*time.Millisecond),
		),
	}
}

// Chat sends the messages and assembles the streamed reply.
//
// The response body is a sequence of newline-delimited JSON fragments,
// each holding a partial message.content. Fragments are concatenated in
// arrival order — assembly is strictly sequential. If progress is
// non-nil it is called after every fragment with percent-complete and a
// status string. A malformed fragment is reported through progress and
// skipped; it never aborts the remaining fragments.
func (c *OllamaClient) Chat(ctx context.Context, model string, messages []Message, progress Progress) (string, error) {
	body, err := json.Marshal(ChatRequest{Model: model, Messages: messages})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("API error %d: %s", resp.StatusCode,
			httpkit.ReadErrorBody(resp.Body, 4096))
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	return assemble(string(raw), progress), nil
}

// assemble concatenates the content of every parseable fragment, in order.
func assemble(raw string, progress Progress) string {
	lines := strings.Split(strings.TrimSpace(raw), "\n")
	total := len(lines)

	var reply strings.Builder
	for i, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			report(progress, i+1, total, "")
			continue
		}

		var frag chatFragment
		if err := json.Unmarshal([]byte(line), &frag); err != nil {
			report(progress, i+1, total, fmt.Sprintf("error: bad fragment: %v", err))
			continue
		}

		reply.WriteString(frag.Message.Content)
		report(progress, i+1, total, "assembling reply")
	}

	return reply.String()
}

func report(progress Progress, index, total int, status string) {
	if progress == nil {
		return
	}
	progress(float64(index)/float64(total), status)
}

// Ping checks if the endpoint is reachable.
func (c *OllamaClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API error %d", resp.StatusCode)
	}

	return nil
}
