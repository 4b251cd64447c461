package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"reeve/internal/fetch"
)

// WebFetch downloads a URL and returns its readable text content.
type WebFetch struct {
	fetcher *fetch.Fetcher
}

// NewWebFetch creates the web_fetch tool.
func NewWebFetch() *WebFetch {
	return &WebFetch{fetcher: fetch.New()}
}

func (w *WebFetch) Name() string { return "web_fetch" }

func (w *WebFetch) Description() string {
	return "Fetch a web page and return its readable text content."
}

func (w *WebFetch) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "URL to fetch and extract content from.",
			},
			"max_chars": map[string]any{
				"type":        "integer",
				"description": "Maximum characters to return. Default: 50000.",
			},
		},
		"required": []string{"url"},
	}
}

// Match fires on inputs like "fetch https://example.com".
func (w *WebFetch) Match(input string) bool {
	q := strings.ToLower(input)
	return strings.HasPrefix(q, "fetch ") &&
		(strings.Contains(q, "http://") || strings.Contains(q, "https://"))
}

func (w *WebFetch) Execute(ctx context.Context, params map[string]any) (string, error) {
	url := StringParam(params, "url")
	if url == "" {
		// Fallback path: pull the URL out of the raw input.
		url = urlFromInput(StringParam(params, FallbackParam))
	}
	if url == "" {
		return "", fmt.Errorf("web_fetch: url is required")
	}

	result, err := w.fetcher.Fetch(ctx, url, IntParam(params, "max_chars"))
	if err != nil {
		return "", err
	}

	out, err := json.Marshal(result)
	if err != nil {
		return fmt.Sprintf("Title: %s\n\n%s", result.Title, result.Content), nil
	}
	return string(out), nil
}

func urlFromInput(input string) string {
	for _, field := range strings.Fields(input) {
		if strings.HasPrefix(field, "http://") || strings.HasPrefix(field, "https://") {
			return field
		}
	}
	return ""
}
