// Package fetch downloads web pages and extracts readable text,
// stripping scripts, navigation, and other boilerplate. It backs the
// web_fetch tool.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"reeve/internal/httpkit"
)

// DefaultTimeout is the HTTP request timeout for fetching pages.
const DefaultTimeout = 30 * time.Second

// DefaultMaxBytes is the maximum response body size (5 MB).
const DefaultMaxBytes int64 = 5 * 1024 * 1024

// DefaultMaxChars is the default character limit for extracted text.
const DefaultMaxChars = 50000

// Result holds the fetched and extracted content from a URL.
type Result struct {
	URL         string `json:"url"`
	Title       string `json:"title,omitempty"`
	Content     string `json:"content"`
	ContentType string `json:"content_type,omitempty"`
	Truncated   bool   `json:"truncated,omitempty"`
	StatusCode  int    `json:"status_code"`
}

// Fetcher downloads and extracts readable content from web pages.
type Fetcher struct {
	client   *http.Client
	maxBytes int64
}

// New creates a Fetcher with default settings.
func New() *Fetcher {
	return &Fetcher{
		client:   httpkit.NewClient(httpkit.WithTimeout(DefaultTimeout)),
		maxBytes: DefaultMaxBytes,
	}
}

// Fetch downloads the URL and extracts readable text content.
// maxChars limits the output length; 0 uses DefaultMaxChars.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, maxChars int) (*Result, error) {
	if rawURL == "" {
		return nil, fmt.Errorf("web_fetch: url is required")
	}

	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		rawURL = "https://" + rawURL
	}
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("web_fetch: invalid url: %w", err)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,text/plain;q=0.8,*/*;q=0.7")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("web_fetch: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes))
	if err != nil {
		return nil, fmt.Errorf("web_fetch: failed to read response: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")

	var title, content string
	switch {
	case isHTML(contentType):
		title, content = extractHTML(string(body))
	case utf8.Valid(body):
		content = string(body)
	default:
		content = fmt.Sprintf("Binary content (%s), %d bytes", contentType, len(body))
	}

	truncated := false
	if len(content) > maxChars {
		content = truncateUTF8(content, maxChars)
		truncated = true
	}

	return &Result{
		URL:         rawURL,
		Title:       title,
		Content:     content,
		ContentType: contentType,
		Truncated:   truncated,
		StatusCode:  resp.StatusCode,
	}, nil
}

func isHTML(ct string) bool {
	ct = strings.ToLower(ct)
	return strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml")
}

// truncateUTF8 cuts s to maxChars runes without splitting a multi-byte
// character.
func truncateUTF8(s string, maxChars int) string {
	count := 0
	for i := range s {
		if count >= maxChars {
			return s[:i]
		}
		count++
	}
	return s
}
