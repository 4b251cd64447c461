package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestChatAssemblesFragmentsInOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/chat" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}

		var req ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "test-model" {
			t.Errorf("model = %q, want test-model", req.Model)
		}

		w.Write([]byte(`{"message":{"content":"Hel"}}` + "\n"))
		w.Write([]byte(`{"message":{"content":"lo"}}` + "\n"))
		w.Write([]byte(`{"message":{"content":""},"done":true}` + "\n"))
	}))
	defer srv.Close()

	client := NewOllamaClient(srv.URL)
	got, err := client.Chat(context.Background(), "test-model",
		[]Message{{Role: "user", Content: "hi"}}, nil)
	if err != nil {
		t.Fatalf("Chat() error: %v", err)
	}
	if got != "Hello" {
		t.Errorf("Chat() = %q, want %q", got, "Hello")
	}
}

func TestChatMalformedFragmentSkipped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"message":{"content":"good "}}` + "\n"))
		w.Write([]byte(`{this is not json` + "\n"))
		w.Write([]byte(`{"message":{"content":"still good"}}` + "\n"))
	}))
	defer srv.Close()

	var errorStatuses []string
	progress := func(pct float64, status string) {
		if strings.HasPrefix(status, "error:") {
			errorStatuses = append(errorStatuses, status)
		}
	}

	client := NewOllamaClient(srv.URL)
	got, err := client.Chat(context.Background(), "m", []Message{{Role: "user", Content: "x"}}, progress)
	if err != nil {
		t.Fatalf("Chat() error: %v", err)
	}
	if got != "good still good" {
		t.Errorf("Chat() = %q, want fragments around the bad one", got)
	}
	if len(errorStatuses) != 1 {
		t.Errorf("got %d error statuses, want 1: %v", len(errorStatuses), errorStatuses)
	}
}

func TestChatProgressPercentages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"message":{"content":"a"}}` + "\n"))
		w.Write([]byte(`{"message":{"content":"b"}}` + "\n"))
		w.Write([]byte(`{"message":{"content":"c"}}` + "\n"))
		w.Write([]byte(`{"message":{"content":"d"}}` + "\n"))
	}))
	defer srv.Close()

	var percents []float64
	client := NewOllamaClient(srv.URL)
	_, err := client.Chat(context.Background(), "m", nil, func(pct float64, _ string) {
		percents = append(percents, pct)
	})
	if err != nil {
		t.Fatal(err)
	}

	want := []float64{0.25, 0.5, 0.75, 1.0}
	if len(percents) != len(want) {
		t.Fatalf("got %d progress calls, want %d", len(percents), len(want))
	}
	for i := range want {
		if percents[i] != want[i] {
			t.Errorf("percent[%d] = %v, want %v", i, percents[i], want[i])
		}
	}
}

func TestChatHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewOllamaClient(srv.URL)
	_, err := client.Chat(context.Background(), "ghost", nil, nil)
	if err == nil {
		t.Fatal("expected error for 404 response")
	}
	if !strings.Contains(err.Error(), "404") {
		t.Errorf("error %q should mention status code", err)
	}
}

func TestNewOllamaClientDefaultURL(t *testing.T) {
	c := NewOllamaClient("")
	if c.baseURL != DefaultBaseURL {
		t.Errorf("baseURL = %q, want %q", c.baseURL, DefaultBaseURL)
	}

	c = NewOllamaClient("http://models.local:11434/")
	if c.baseURL != "http://models.local:11434" {
		t.Errorf("trailing slash not trimmed: %q", c.baseURL)
	}
}
