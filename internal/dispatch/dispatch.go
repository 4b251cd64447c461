// Package dispatch interprets a resolved reply as either a direct
// answer or a tool invocation, executes at most one tool, and produces
// the final user-visible text. Every request ends in exactly one
// terminal state.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"reeve/internal/tools"
)

// State is the terminal state of a dispatched request.
type State string

const (
	StatePlainReply    State = "plain_reply"
	StateParamsInvalid State = "params_invalid"
	StateToolNotFound  State = "tool_not_found"
	StateToolSucceeded State = "tool_succeeded"
	StateToolFailed    State = "tool_failed"
	StateHelpListing   State = "help_listing"
)

// Outcome describes how a request terminated.
type Outcome struct {
	Text     string // final user-visible response
	State    State
	Tool     string // tool name, when one was selected
	Fallback bool   // tool chosen by Match() rather than a directive
}

// helpKeywords trigger the catalog listing when the input produced no
// directive and no fallback match.
var helpKeywords = []string{
	"functionality",
	"can you do",
	"what can you do",
	"help",
	"tools",
}

// directiveRe locates the head of a tool directive. Only the first
// occurrence in a reply is ever honored. The params object itself is
// captured by a brace-depth scanner, not the regex, so nested JSON
// parses correctly.
var directiveRe = regexp.MustCompile(`TOOL:(\w+)\s+PARAMS:`)

// Dispatcher runs the tool-call protocol against a registry.
type Dispatcher struct {
	registry *tools.Registry
	logger   *slog.Logger
}

// New creates a dispatcher over the given registry.
func New(registry *tools.Registry, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{registry: registry, logger: logger}
}

// Dispatch resolves reply (the backend's text) and rawInput (the
// user's original utterance) into the final response.
func (d *Dispatcher) Dispatch(ctx context.Context, reply, rawInput string) Outcome {
	if name, captured, found := scanDirective(reply); found {
		return d.runDirective(ctx, name, captured)
	}

	// No directive: let tools volunteer against the raw input, in
	// registration order. First positive match wins — no scoring.
	for _, t := range d.registry.All() {
		if t.Match(rawInput) {
			d.logger.Debug("fallback match", "tool", t.Name())
			return d.execute(ctx, t, map[string]any{tools.FallbackParam: rawInput}, true)
		}
	}

	if wantsHelp(rawInput) {
		return Outcome{Text: d.registry.Catalog(), State: StateHelpListing}
	}

	return Outcome{Text: reply, State: StatePlainReply}
}

// runDirective handles an explicit TOOL:...PARAMS:... directive.
func (d *Dispatcher) runDirective(ctx context.Context, name, captured string) Outcome {
	var params map[string]any
	if err := json.Unmarshal([]byte(captured), &params); err != nil {
		// Embed both the parse error and the raw captured text; the
		// tool is never looked up, let alone invoked.
		return Outcome{
			Text:  fmt.Sprintf("Failed to parse tool parameters: %v (raw: %s)", err, captured),
			State: StateParamsInvalid,
			Tool:  name,
		}
	}

	t, ok := d.registry.Get(name)
	if !ok {
		return Outcome{
			Text:  fmt.Sprintf("Tool '%s' not found.", name),
			State: StateToolNotFound,
			Tool:  name,
		}
	}

	return d.execute(ctx, t, params, false)
}

// execute invokes a tool and maps its result onto a terminal state.
func (d *Dispatcher) execute(ctx context.Context, t tools.Tool, params map[string]any, fallback bool) (out Outcome) {
	out = Outcome{Tool: t.Name(), Fallback: fallback}

	// A tool that panics must not take the request down with it.
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("tool panicked", "tool", t.Name(), "panic", r)
			out.Text = fmt.Sprintf("Tool error: %v", r)
			out.State = StateToolFailed
		}
	}()

	text, err := t.Execute(ctx, params)
	if err != nil {
		d.logger.Warn("tool failed", "tool", t.Name(), "error", err)
		out.Text = fmt.Sprintf("Tool error: %s", err.Error())
		out.State = StateToolFailed
		return out
	}

	out.Text = text
	out.State = StateToolSucceeded
	return out
}

// scanDirective finds the first tool directive in reply. It returns
// the tool identifier and the captured params text. Capture starts at
// the first '{' after PARAMS: and runs a brace-depth scan that is
// aware of JSON strings and escapes, so nested objects are captured
// whole. If the braces never balance (or no '{' follows), the rest of
// the reply is captured as-is and left for the JSON parser to reject.
func scanDirective(reply string) (name, captured string, found bool) {
	m := directiveRe.FindStringSubmatchIndex(reply)
	if m == nil {
		return "", "", false
	}

	name = reply[m[2]:m[3]]
	rest := strings.TrimLeft(reply[m[1]:], " \t")

	if !strings.HasPrefix(rest, "{") {
		return name, strings.TrimSpace(rest), true
	}
	return name, captureObject(rest), true
}

// captureObject returns the balanced JSON object at the start of s,
// or all of s when the object never closes.
func captureObject(s string) string {
	depth := 0
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case !inString && c == '{':
			depth++
		case !inString && c == '}':
			depth--
			if depth == 0 {
				return s[:i+1]
			}
		}
	}
	return s
}

// wantsHelp reports whether the raw input looks like a capability
// question.
func wantsHelp(input string) bool {
	q := strings.ToLower(input)
	for _, kw := range helpKeywords {
		if strings.Contains(q, kw) {
			return true
		}
	}
	return false
}
