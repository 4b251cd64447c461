package httpkit

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"syscall"
	"testing"
	"time"
)

func TestUserAgentInjected(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
	}))
	defer srv.Close()

	client := NewClient(WithTimeout(5 * time.Second))
	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	DrainAndClose(resp.Body, 1024)

	if !strings.HasPrefix(gotUA, "reeve/") {
		t.Errorf("User-Agent = %q, want reeve/ prefix", gotUA)
	}
}

func TestUserAgentNotOverridden(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
	}))
	defer srv.Close()

	client := NewClient()
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	req.Header.Set("User-Agent", "custom/1.0")
	resp, err := client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	DrainAndClose(resp.Body, 1024)

	if gotUA != "custom/1.0" {
		t.Errorf("User-Agent = %q, want custom/1.0", gotUA)
	}
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"refused", syscall.ECONNREFUSED, true},
		{"no route", syscall.EHOSTUNREACH, true},
		{"net unreachable", syscall.ENETUNREACH, true},
		{"reset excluded", syscall.ECONNRESET, false},
		{"generic", io.EOF, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isRetryableError(tt.err); got != tt.want {
				t.Errorf("isRetryableError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestReadErrorBody(t *testing.T) {
	body := io.NopCloser(strings.NewReader("backend exploded"))
	if got := ReadErrorBody(body, 1024); got != "backend exploded" {
		t.Errorf("ReadErrorBody() = %q", got)
	}

	if got := ReadErrorBody(nil, 1024); got != "" {
		t.Errorf("ReadErrorBody(nil) = %q, want empty", got)
	}
}
