package brain

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"reeve/internal/cache"
	"reeve/internal/dispatch"
	"reeve/internal/memory"
	"reeve/internal/resolver"
	"reeve/internal/tools"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// scriptedBackend replies from a function, so tests can react to the
// prompt it was handed.
type scriptedBackend struct {
	reply func(prompt string) string
	calls int
}

func (s *scriptedBackend) Name() string { return "assistant" }

func (s *scriptedBackend) Resolve(ctx context.Context, prompt string) (string, error) {
	s.calls++
	return s.reply(prompt), nil
}

type echoTool struct{}

func (echoTool) Name() string        { return "echo" }
func (echoTool) Description() string { return "Echo text back." }
func (echoTool) Parameters() map[string]any {
	return map[string]any{"type": "object"}
}
func (echoTool) Match(input string) bool { return false }

func (echoTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	text, _ := params["text"].(string)
	return text, nil
}

func newTestBrain(t *testing.T, backend resolver.Backend, opts ...Option) *Brain {
	t.Helper()

	registry, err := tools.NewRegistry(echoTool{})
	if err != nil {
		t.Fatal(err)
	}
	store := cache.New(filepath.Join(t.TempDir(), "cache.json"), 0, testLogger())
	chain := resolver.New(store, testLogger(), resolver.WithBackend(backend))
	return New(chain, registry, testLogger(), opts...)
}

func TestAskPlainReply(t *testing.T) {
	backend := &scriptedBackend{reply: func(string) string { return "The answer is 4." }}
	b := newTestBrain(t, backend)

	resp := b.Ask(context.Background(), "", "what is 2+2", nil)
	if resp.Text != "The answer is 4." {
		t.Errorf("text = %q", resp.Text)
	}
	if resp.State != dispatch.StatePlainReply {
		t.Errorf("state = %s", resp.State)
	}
	if resp.Tier != "assistant" || resp.FromCache {
		t.Errorf("resp = %+v", resp)
	}
	if resp.RequestID == "" {
		t.Error("request id missing")
	}
}

func TestAskDirectiveRunsTool(t *testing.T) {
	backend := &scriptedBackend{reply: func(string) string {
		return `TOOL:echo PARAMS:{"text":"hi there"}`
	}}
	b := newTestBrain(t, backend)

	resp := b.Ask(context.Background(), "", "say hi", nil)
	if resp.Text != "hi there" {
		t.Errorf("text = %q", resp.Text)
	}
	if resp.State != dispatch.StateToolSucceeded || resp.Tool != "echo" {
		t.Errorf("resp = %+v", resp)
	}
}

func TestAskWarmCacheIsIdempotent(t *testing.T) {
	backend := &scriptedBackend{reply: func(string) string { return "cached answer" }}
	b := newTestBrain(t, backend)

	first := b.Ask(context.Background(), "", "same question", nil)
	second := b.Ask(context.Background(), "", "same question", nil)

	if second.Text != first.Text {
		t.Errorf("texts differ: %q vs %q", first.Text, second.Text)
	}
	if !second.FromCache {
		t.Error("second ask must come from cache")
	}
	if backend.calls != 1 {
		t.Errorf("backend called %d times, want 1", backend.calls)
	}
}

func TestAskBackendSeesToolCatalog(t *testing.T) {
	var seen string
	backend := &scriptedBackend{reply: func(p string) string {
		seen = p
		return "ok"
	}}
	b := newTestBrain(t, backend)

	b.Ask(context.Background(), "", "hello", nil)
	if !strings.Contains(seen, "echo") {
		t.Error("prompt must enumerate registered tools")
	}
	if !strings.Contains(seen, "hello") {
		t.Error("prompt must carry the user input")
	}
}

func TestAskRecordsAndReplaysConversation(t *testing.T) {
	store, err := memory.Open(filepath.Join(t.TempDir(), "memory.db"), 0)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	var lastPrompt string
	backend := &scriptedBackend{reply: func(p string) string {
		lastPrompt = p
		return "noted"
	}}
	b := newTestBrain(t, backend, WithMemory(store, 10))

	b.Ask(context.Background(), "conv-1", "my name is Ada", nil)

	msgs, err := store.RecentContext(context.Background(), "conv-1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("stored %d messages, want user + assistant", len(msgs))
	}
	if msgs[0].Role != "user" || msgs[1].Role != "assistant" {
		t.Errorf("roles = %s, %s", msgs[0].Role, msgs[1].Role)
	}

	b.Ask(context.Background(), "conv-1", "what is my name", nil)
	if !strings.Contains(lastPrompt, "my name is Ada") {
		t.Error("second prompt must carry the first turn as context")
	}
}

func TestAskNeverPanics(t *testing.T) {
	// A nil chain would panic inside the pipeline; Ask must swallow it
	// and fall back to the failsafe reply.
	registry, err := tools.NewRegistry()
	if err != nil {
		t.Fatal(err)
	}
	b := New(nil, registry, testLogger())

	resp := b.Ask(context.Background(), "", "anything", nil)
	if resp.Text != failsafeReply {
		t.Errorf("text = %q, want failsafe reply", resp.Text)
	}
}

func TestStats(t *testing.T) {
	backend := &scriptedBackend{reply: func(string) string { return "ok" }}
	b := newTestBrain(t, backend, WithModel("llama3.2"))

	stats := b.Stats()
	if stats["requests"] != 0 || stats["last_request"] != "" {
		t.Errorf("fresh stats = %v", stats)
	}

	b.Ask(context.Background(), "", "ping", nil)
	stats = b.Stats()
	if stats["requests"] != 1 {
		t.Errorf("requests = %v", stats["requests"])
	}
	if stats["last_request"] == "" {
		t.Error("last_request must be set after a request")
	}
	if stats["default_model"] != "llama3.2" {
		t.Errorf("default_model = %v", stats["default_model"])
	}
}
