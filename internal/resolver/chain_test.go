package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"reeve/internal/cache"
	"reeve/internal/llm"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testCache(t *testing.T) *cache.Cache {
	t.Helper()
	return cache.New(filepath.Join(t.TempDir(), "cache.json"), 0, testLogger())
}

// fakeBackend is a scriptable tier for chain tests.
type fakeBackend struct {
	name  string
	reply string
	err   error
	calls int
}

func (f *fakeBackend) Name() string { return f.name }

func (f *fakeBackend) Resolve(ctx context.Context, prompt string) (string, error) {
	f.calls++
	return f.reply, f.err
}

// fakeChat is a scriptable model endpoint.
type fakeChat struct {
	reply string
	err   error
	calls int
}

func (f *fakeChat) Chat(ctx context.Context, model string, messages []llm.Message, progress llm.Progress) (string, error) {
	f.calls++
	return f.reply, f.err
}

func TestResolveCacheHitSkipsAllTiers(t *testing.T) {
	backend := &fakeBackend{name: "assistant", reply: "from backend"}
	chat := &fakeChat{reply: "from chat"}
	chain := New(testCache(t), testLogger(),
		WithBackend(backend), WithChat(chat, "m"))

	first := chain.Resolve(context.Background(), "hello", nil)
	if first.FromCache {
		t.Fatal("cold cache must not report a hit")
	}
	if first.Text != "from backend" || first.Tier != "assistant" {
		t.Fatalf("first = %+v", first)
	}

	second := chain.Resolve(context.Background(), "hello", nil)
	if !second.FromCache || second.Tier != TierCache {
		t.Fatalf("second = %+v, want cache hit", second)
	}
	if second.Text != first.Text {
		t.Errorf("cached text = %q, want %q", second.Text, first.Text)
	}
	if backend.calls != 1 || chat.calls != 0 {
		t.Errorf("warm resolve touched the network: backend=%d chat=%d",
			backend.calls, chat.calls)
	}
}

func TestResolveTierOrderAndFallthrough(t *testing.T) {
	a := &fakeBackend{name: "assistant", err: errors.New("connection refused")}
	b := &fakeBackend{name: "agent_network", reply: ""} // empty reply is a failure
	chat := &fakeChat{reply: "final answer"}
	chain := New(testCache(t), testLogger(),
		WithBackend(a), WithBackend(b), WithChat(chat, "m"))

	got := chain.Resolve(context.Background(), "question", nil)
	if got.Text != "final answer" || got.Tier != "ollama" {
		t.Fatalf("got = %+v", got)
	}
	if a.calls != 1 || b.calls != 1 || chat.calls != 1 {
		t.Errorf("each tier must be attempted exactly once: a=%d b=%d chat=%d",
			a.calls, b.calls, chat.calls)
	}
}

func TestResolveErrorSentinelFallsThrough(t *testing.T) {
	a := &fakeBackend{name: "assistant", reply: "ERROR: model overloaded"}
	chat := &fakeChat{reply: "real reply"}
	store := testCache(t)
	chain := New(store, testLogger(), WithBackend(a), WithChat(chat, "m"))

	got := chain.Resolve(context.Background(), "q", nil)
	if got.Text != "real reply" {
		t.Fatalf("sentinel reply must not be returned: %+v", got)
	}
	if cached, _ := store.Get(cache.Key("q")); cached != "real reply" {
		t.Errorf("cached = %q, sentinel must never reach the cache", cached)
	}
}

func TestResolveAllTiersFail(t *testing.T) {
	a := &fakeBackend{name: "assistant", err: errors.New("down")}
	chat := &fakeChat{err: errors.New("also down")}
	store := testCache(t)
	chain := New(store, testLogger(), WithBackend(a), WithChat(chat, "m"))

	got := chain.Resolve(context.Background(), "q", nil)
	if got.Text != NoBackendReply || got.Tier != TierNone {
		t.Fatalf("got = %+v, want the fixed sentinel", got)
	}
	if store.Len() != 0 {
		t.Error("the sentinel must never be cached")
	}

	// The sentinel is not sticky: once a tier recovers, it resolves.
	chat.err = nil
	chat.reply = "back online"
	got = chain.Resolve(context.Background(), "q", nil)
	if got.Text != "back online" {
		t.Errorf("after recovery got = %+v", got)
	}
}

func TestResolveNoTiersConfigured(t *testing.T) {
	chain := New(testCache(t), testLogger())

	got := chain.Resolve(context.Background(), "q", nil)
	if got.Text != NoBackendReply {
		t.Errorf("got = %+v", got)
	}
}

func TestResolveSuccessIsCachedWriteThrough(t *testing.T) {
	backend := &fakeBackend{name: "assistant", reply: "answer"}
	store := testCache(t)
	chain := New(store, testLogger(), WithBackend(backend))

	chain.Resolve(context.Background(), "prompt", nil)
	if cached, ok := store.Get(cache.Key("prompt")); !ok || cached != "answer" {
		t.Errorf("cache after resolve: %q, %v", cached, ok)
	}
}

func TestHTTPBackendResolve(t *testing.T) {
	var gotAuth, gotPrompt string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		var req map[string]string
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		gotPrompt = req["prompt"]
		json.NewEncoder(w).Encode(map[string]string{"reply": "42"})
	}))
	defer srv.Close()

	b := NewHTTPBackend("assistant", srv.URL, "sekrit")
	reply, err := b.Resolve(context.Background(), "meaning of life")
	if err != nil {
		t.Fatal(err)
	}
	if reply != "42" {
		t.Errorf("reply = %q", reply)
	}
	if gotPrompt != "meaning of life" {
		t.Errorf("prompt sent = %q", gotPrompt)
	}
	if gotAuth != "Bearer sekrit" {
		t.Errorf("auth header = %q", gotAuth)
	}
}

func TestHTTPBackendErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "http error status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "busy", http.StatusServiceUnavailable)
			},
		},
		{
			name: "error field in body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(map[string]string{"error": "no model loaded"})
			},
		},
		{
			name: "garbage body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte("not json"))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			b := NewHTTPBackend("assistant", srv.URL, "")
			if _, err := b.Resolve(context.Background(), "q"); err == nil {
				t.Error("want error")
			}
		})
	}
}
