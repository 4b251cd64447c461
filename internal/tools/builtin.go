package tools

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Clock reports the current date and time. It exists so time questions
// never round-trip through a model backend.
type Clock struct {
	// Now is overridable for tests; nil uses time.Now.
	Now func() time.Time
}

func (c *Clock) Name() string        { return "clock" }
func (c *Clock) Description() string { return "Report the current local date and time." }

func (c *Clock) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"format": map[string]any{
				"type":        "string",
				"description": "Optional Go time layout (default: RFC1123).",
			},
		},
	}
}

func (c *Clock) Match(input string) bool {
	q := strings.ToLower(input)
	for _, phrase := range []string{"what time", "current time", "what's the time", "what is the time", "today's date", "what day is it"} {
		if strings.Contains(q, phrase) {
			return true
		}
	}
	return false
}

func (c *Clock) Execute(ctx context.Context, params map[string]any) (string, error) {
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}

	layout := StringParam(params, "format")
	if layout == "" {
		layout = time.RFC1123
	}
	return fmt.Sprintf("It is %s.", now().Format(layout)), nil
}

// Echo returns its text parameter unchanged. Useful for wiring checks
// and for exercising the dispatch path end to end.
type Echo struct{}

func (e *Echo) Name() string        { return "echo" }
func (e *Echo) Description() string { return "Echo the given text back verbatim." }

func (e *Echo) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"text": map[string]any{
				"type":        "string",
				"description": "The text to echo.",
			},
		},
		"required": []string{"text"},
	}
}

// Match is always false: echo is directive-only, never a fallback.
func (e *Echo) Match(input string) bool { return false }

func (e *Echo) Execute(ctx context.Context, params map[string]any) (string, error) {
	text, ok := params["text"].(string)
	if !ok {
		return "", fmt.Errorf("echo: text parameter is required")
	}
	return text, nil
}
