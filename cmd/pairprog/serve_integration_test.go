package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/youruser/pairprog/internal/config"
	"github.com/youruser/pairprog/internal/llm"
)

func writeSSEJSON(t *testing.T, w http.ResponseWriter, payload map[string]any) {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("json marshal failed: %v", err)
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", string(data)); err != nil {
		t.Fatalf("failed to write SSE payload: %v", err)
	}
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

func writeSSEDone(t *testing.T, w http.ResponseWriter) {
	t.Helper()
	if _, err := io.WriteString(w, "data: [DONE]\n\n"); err != nil {
		t.Fatalf("failed to write SSE done marker: %v", err)
	}
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

// newCompletionServer fakes an OpenAI-compatible endpoint and records the
// chat requests it receives.
func newCompletionServer(t *testing.T, chunks []string) (*httptest.Server, func() []map[string]any) {
	t.Helper()
	var mu sync.Mutex
	var requests []map[string]any

	mux := http.NewServeMux()
	mux.HandleFunc("/models", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data": []any{
				map[string]any{"id": "text-embedding-3-small", "object": "model"},
				map[string]any{"id": "gpt-4o-mini", "object": "model"},
			},
		})
	})
	mux.HandleFunc("/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		mu.Lock()
		requests = append(requests, body)
		mu.Unlock()

		w.Header().Set("Content-Type", "text/event-stream")
		for _, chunk := range chunks {
			writeSSEJSON(t, w, map[string]any{
				"id":     "chatcmpl-1",
				"object": "chat.completion.chunk",
				"model":  "gpt-4o-mini",
				"choices": []any{
					map[string]any{"index": 0, "delta": map[string]any{"content": chunk}},
				},
			})
		}
		writeSSEDone(t, w)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, func() []map[string]any {
		mu.Lock()
		defer mu.Unlock()
		return append([]map[string]any(nil), requests...)
	}
}

func TestServeIntegrationOpenAI(t *testing.T) {
	srv, requests := newCompletionServer(t, []string{"Nice ", "refactor, ", "but check the nil case."})

	out := &syncBuffer{}
	s := newServer(out)
	s.loadConfig = func() (*config.Config, error) {
		cfg := config.Default()
		cfg.APIKey = "sk-test"
		cfg.BaseURL = srv.URL
		cfg.ModelFamily = "gpt"
		cfg.CustomInstructions = "Be brief."
		return &cfg, nil
	}
	t.Cleanup(func() { s.deactivate(t.Context()) })

	send(t, s, map[string]any{"action": "open", "uri": "file:///svc/handler.go", "text": "func h() {\n\treturn\n}\n"})
	send(t, s, map[string]any{"action": "start", "request_id": 1})
	send(t, s, map[string]any{"action": "save", "uri": "file:///svc/handler.go", "text": "func h() error {\n\treturn nil\n}\n"})
	s.controller().Wait()

	reqs := requests()
	if len(reqs) != 1 {
		t.Fatalf("expected one chat request, got %d", len(reqs))
	}
	if reqs[0]["model"] != "gpt-4o-mini" {
		t.Errorf("model = %v, want the first id matching the family", reqs[0]["model"])
	}
	if reqs[0]["stream"] != true {
		t.Errorf("expected a streaming request")
	}
	msgs, _ := reqs[0]["messages"].([]any)
	if len(msgs) != 3 {
		t.Fatalf("expected system, custom and diff messages, got %d", len(msgs))
	}
	last, _ := msgs[2].(map[string]any)
	content, _ := last["content"].(string)
	for _, want := range []string{"File: file:///svc/handler.go", "```diff", "-func h() {", "+func h() error {"} {
		if !strings.Contains(content, want) {
			t.Errorf("diff message missing %q:\n%s", want, content)
		}
	}

	responses := out.responses(t)
	if n := countResponsesByType(responses, "error"); n != 0 {
		t.Fatalf("expected no error responses, got %+v", responses)
	}
	panelResp := firstResponseByType(responses, "panel")
	if panelResp == nil {
		t.Fatalf("expected a panel update, got %+v", responses)
	}
	if html, _ := panelResp["html"].(string); !strings.Contains(html, "Nice refactor, but check the nil case.") {
		t.Errorf("fragments not concatenated in order:\n%s", html)
	}

	entries := s.controller().Transcript()
	if len(entries) != 2 || entries[1].Model != "gpt-4o-mini" {
		t.Fatalf("transcript = %+v", entries)
	}
}

func TestServeIntegrationNoMatchingModel(t *testing.T) {
	srv, requests := newCompletionServer(t, []string{"unused"})

	out := &syncBuffer{}
	s := newServer(out)
	s.loadConfig = func() (*config.Config, error) {
		cfg := config.Default()
		cfg.APIKey = "sk-test"
		cfg.BaseURL = srv.URL
		cfg.ModelFamily = "claude"
		return &cfg, nil
	}
	s.newProvider = llm.NewProvider
	t.Cleanup(func() { s.deactivate(t.Context()) })

	send(t, s, map[string]any{"action": "open", "uri": "file:///a.go", "text": "a\n"})
	send(t, s, map[string]any{"action": "start"})
	send(t, s, map[string]any{"action": "save", "uri": "file:///a.go", "text": "b\n"})
	s.controller().Wait()

	if n := len(requests()); n != 0 {
		t.Fatalf("no chat request expected, got %d", n)
	}
	found := false
	for _, msg := range noticeMessages(out.responses(t)) {
		if msg == "No chat models available" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected the no-model notice, got %+v", out.responses(t))
	}
	if s.controller().Status().Transcript != 0 {
		t.Fatal("transcript must stay empty")
	}
}
