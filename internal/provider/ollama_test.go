package provider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"llmsh/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func chatServer(t *testing.T, content string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		var req ollamaRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		if req.Stream {
			t.Error("streaming requested")
		}
		json.NewEncoder(w).Encode(ollamaResponse{
			Message: ollamaMsg{Role: "assistant", Content: content},
			Done:    true,
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestAsk(t *testing.T) {
	srv := chatServer(t, "ls -la")
	o := NewOllama(OllamaConfig{APIBase: srv.URL, Logger: testLogger()})

	got, err := o.Ask(context.Background(), "list everything here")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if got != "ls -la" {
		t.Errorf("reply = %q", got)
	}
}

func TestAsk_StripsCodeFence(t *testing.T) {
	srv := chatServer(t, "```bash\ntouch notes.txt\n```")
	o := NewOllama(OllamaConfig{APIBase: srv.URL, Logger: testLogger()})

	got, err := o.Ask(context.Background(), "make a file")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if got != "touch notes.txt" {
		t.Errorf("reply = %q", got)
	}
}

func TestAsk_EmptyReply(t *testing.T) {
	srv := chatServer(t, "   \n  ")
	o := NewOllama(OllamaConfig{APIBase: srv.URL, Logger: testLogger()})

	_, err := o.Ask(context.Background(), "anything")
	if !errors.Is(err, domain.ErrEmptyResponse) {
		t.Fatalf("expected ErrEmptyResponse, got %v", err)
	}
}

func TestAsk_ClientErrorNotRetried(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "no such model", http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)
	o := NewOllama(OllamaConfig{APIBase: srv.URL, Logger: testLogger()})

	_, err := o.Ask(context.Background(), "q")
	if !errors.Is(err, domain.ErrModelUnavailable) {
		t.Fatalf("expected ErrModelUnavailable, got %v", err)
	}
	if calls != 1 {
		t.Errorf("4xx retried: %d calls", calls)
	}
}

func TestAsk_RetriesServerError(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			http.Error(w, "overloaded", http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(ollamaResponse{Message: ollamaMsg{Content: "pwd"}, Done: true})
	}))
	t.Cleanup(srv.Close)
	o := NewOllama(OllamaConfig{APIBase: srv.URL, Logger: testLogger()})

	got, err := o.Ask(context.Background(), "q")
	if err != nil {
		t.Fatalf("Ask after retry: %v", err)
	}
	if got != "pwd" {
		t.Errorf("reply = %q", got)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestAsk_ContextCancelDuringBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)
	o := NewOllama(OllamaConfig{APIBase: srv.URL, Logger: testLogger()})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := o.Ask(ctx, "q")
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestHealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"models":[]}`))
	}))
	t.Cleanup(srv.Close)

	o := NewOllama(OllamaConfig{APIBase: srv.URL, Logger: testLogger()})
	if err := o.Healthy(context.Background()); err != nil {
		t.Errorf("Healthy: %v", err)
	}

	srv.Close()
	if err := o.Healthy(context.Background()); !errors.Is(err, domain.ErrModelUnavailable) {
		t.Errorf("expected ErrModelUnavailable after shutdown, got %v", err)
	}
}

func TestCleanReply(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"ls -la", "ls -la"},
		{"  ls -la \n", "ls -la"},
		{"```bash\nls -la\n```", "ls -la"},
		{"```\nls -la\n```", "ls -la"},
		{"```sh\ntouch a.txt\nextra prose\n```", "touch a.txt"},
		{"Here is the command:\nls", "Here is the command:"},
		{"", ""},
		{"```bash\n```", ""},
	}
	for _, tt := range tests {
		if got := CleanReply(tt.in); got != tt.want {
			t.Errorf("CleanReply(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
