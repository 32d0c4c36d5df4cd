package ollama

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/panelchat/panelchat/internal/source"
)

func collectEvents(t *testing.T, ch <-chan source.Event) []source.Event {
	t.Helper()
	var events []source.Event
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-deadline:
			t.Fatalf("event channel did not close")
		}
	}
}

func TestInvokeStreamsResponses(t *testing.T) {
	var gotPrompt string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req struct {
			Model  string `json:"model"`
			Prompt string `json:"prompt"`
			Stream bool   `json:"stream"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		gotPrompt = req.Prompt
		if req.Model != "llama3" || !req.Stream {
			t.Errorf("request = %+v", req)
		}

		w.Header().Set("Content-Type", "application/x-ndjson")
		io.WriteString(w, `{"response":"Hel","done":false}`+"\n")
		io.WriteString(w, "\n") // blank lines are tolerated
		io.WriteString(w, `{"response":"lo","done":false}`+"\n")
		io.WriteString(w, `{"response":"","done":true}`+"\n")
	}))
	defer upstream.Close()

	src, err := New(Config{BaseURL: upstream.URL, Model: "llama3", SystemPrompt: "Be brief."})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if src.Key() != "llama" {
		t.Fatalf("default key = %q", src.Key())
	}

	ch, err := src.Invoke(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	events := collectEvents(t, ch)

	var text strings.Builder
	for _, ev := range events {
		if ev.Err != nil {
			t.Fatalf("unexpected event error: %v", ev.Err)
		}
		text.WriteString(ev.Text)
	}
	if text.String() != "Hello" {
		t.Fatalf("accumulated text = %q", text.String())
	}

	if !strings.Contains(gotPrompt, "System: Be brief.") {
		t.Fatalf("prompt missing system framing: %q", gotPrompt)
	}
	if !strings.Contains(gotPrompt, "User: hello") || !strings.HasSuffix(gotPrompt, "Assistant:") {
		t.Fatalf("prompt missing turn framing: %q", gotPrompt)
	}
}

func TestInvokeSkipsGarbledLines(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "this is not json\n")
		io.WriteString(w, `{"response":"ok","done":true}`+"\n")
	}))
	defer upstream.Close()

	src, err := New(Config{BaseURL: upstream.URL, Model: "llama3"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ch, err := src.Invoke(context.Background(), "hi")
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	events := collectEvents(t, ch)
	if len(events) != 1 || events[0].Text != "ok" {
		t.Fatalf("events = %+v", events)
	}
}

func TestInvokeRejectsHTTPError(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer upstream.Close()

	src, err := New(Config{BaseURL: upstream.URL, Model: "nope"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := src.Invoke(context.Background(), "hi"); err == nil {
		t.Fatalf("expected error for upstream 404")
	} else if !strings.Contains(err.Error(), "404") {
		t.Fatalf("error should carry the status: %v", err)
	}
}

func TestNewRequiresModel(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected error for missing model")
	}
}
