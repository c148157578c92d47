package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/youruser/pairprog/internal/config"
	"github.com/youruser/pairprog/internal/document"
	"github.com/youruser/pairprog/internal/llm"
)

// syncBuffer collects protocol output written from several goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) responses(t *testing.T) []map[string]any {
	t.Helper()
	b.mu.Lock()
	raw := strings.TrimSpace(b.buf.String())
	b.mu.Unlock()
	if raw == "" {
		return nil
	}

	var out []map[string]any
	for _, line := range strings.Split(raw, "\n") {
		var resp map[string]any
		if err := json.Unmarshal([]byte(line), &resp); err != nil {
			t.Fatalf("failed to parse JSON response line %q: %v", line, err)
		}
		out = append(out, resp)
	}
	return out
}

func countResponsesByType(responses []map[string]any, msgType string) int {
	count := 0
	for _, resp := range responses {
		if gotType, _ := resp["type"].(string); gotType == msgType {
			count++
		}
	}
	return count
}

func firstResponseByType(responses []map[string]any, msgType string) map[string]any {
	for _, resp := range responses {
		if gotType, _ := resp["type"].(string); gotType == msgType {
			return resp
		}
	}
	return nil
}

func noticeMessages(responses []map[string]any) []string {
	var out []string
	for _, resp := range responses {
		if resp["type"] == "notice" {
			msg, _ := resp["message"].(string)
			out = append(out, msg)
		}
	}
	return out
}

type stubProvider struct {
	models []llm.ModelInfo
	reply  string
	err    error
}

func (p *stubProvider) Name() string { return "stub" }

func (p *stubProvider) ListModels(ctx context.Context) ([]llm.ModelInfo, error) {
	return p.models, nil
}

func (p *stubProvider) ChatStream(ctx context.Context, model string, messages []llm.Message, cb llm.StreamCallback) error {
	if p.err != nil {
		return p.err
	}
	cb(llm.StreamEvent{Type: llm.EventContent, Content: p.reply})
	cb(llm.StreamEvent{Type: llm.EventDone})
	return nil
}

func newTestServer(t *testing.T, provider llm.Provider) (*server, *syncBuffer) {
	t.Helper()
	out := &syncBuffer{}
	s := newServer(out)
	s.loadConfig = func() (*config.Config, error) {
		cfg := config.Default()
		cfg.APIKey = "test-key"
		return &cfg, nil
	}
	s.newProvider = func(string, llm.ProviderConfig) (llm.Provider, error) {
		return provider, nil
	}
	t.Cleanup(func() {
		s.deactivate(context.Background())
		if c := s.controller(); c != nil {
			c.Wait()
		}
	})
	return s, out
}

func send(t *testing.T, s *server, req map[string]any) {
	t.Helper()
	line, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	s.handleRequest(context.Background(), string(line))
}

func TestRequestID(t *testing.T) {
	tests := []struct {
		name string
		req  map[string]any
		want string
	}{
		{name: "string", req: map[string]any{"request_id": "abc"}, want: "abc"},
		{name: "int", req: map[string]any{"request_id": 42}, want: "42"},
		{name: "float", req: map[string]any{"request_id": 42.0}, want: "42"},
		{name: "fraction", req: map[string]any{"request_id": 1.5}, want: "1.5"},
		{name: "none", req: map[string]any{}, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := requestID(tt.req); got != tt.want {
				t.Fatalf("requestID(%v) = %q, want %q", tt.req, got, tt.want)
			}
		})
	}
}

func TestAddResponseID(t *testing.T) {
	data := map[string]any{"type": "ok"}
	out := addResponseID("req-1", data)
	if got := out["request_id"]; got != "req-1" {
		t.Fatalf("request_id = %v, want %q", got, "req-1")
	}

	orig := map[string]any{"type": "ok"}
	out2 := addResponseID("", orig)
	if !reflect.DeepEqual(out2, orig) {
		t.Fatalf("expected map unchanged when id is empty")
	}
}

func TestErrorResponse(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "no config", err: config.ErrNoConfig, want: "Config file not found"},
		{name: "no key", err: config.ErrNoAPIKey, want: "API key not set"},
		{name: "invalid", err: fmt.Errorf("%w: bad", config.ErrInvalidConfig), want: "Invalid config"},
		{name: "not open", err: document.ErrNotFound, want: "Document is not open"},
		{name: "not started", err: errNotStarted, want: "not running"},
		{name: "other", err: errors.New("boom"), want: "boom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := errorResponse(tt.err)
			if resp["type"] != "error" {
				t.Fatalf("type = %v, want error", resp["type"])
			}
			if msg, _ := resp["message"].(string); !strings.Contains(msg, tt.want) {
				t.Fatalf("message = %q, want it to contain %q", msg, tt.want)
			}
		})
	}
}

func TestHandleRequestBasics(t *testing.T) {
	s, out := newTestServer(t, &stubProvider{})

	s.handleRequest(context.Background(), "{not json")
	send(t, s, map[string]any{"action": "ping", "request_id": 1})
	send(t, s, map[string]any{"action": "version", "request_id": "v"})
	send(t, s, map[string]any{"action": "bogus"})
	send(t, s, map[string]any{"action": "open"})
	send(t, s, map[string]any{"action": "pause"})

	responses := out.responses(t)
	if len(responses) != 6 {
		t.Fatalf("got %d responses, want 6: %+v", len(responses), responses)
	}
	if responses[0]["message"] != "Invalid JSON" {
		t.Errorf("invalid JSON response = %+v", responses[0])
	}
	if responses[1]["type"] != "ok" || responses[1]["request_id"] != "1" {
		t.Errorf("ping response = %+v", responses[1])
	}
	if responses[2]["type"] != "version" || responses[2]["version"] != versionString() {
		t.Errorf("version response = %+v", responses[2])
	}
	if responses[3]["message"] != "Unknown action: bogus" {
		t.Errorf("unknown action response = %+v", responses[3])
	}
	if responses[4]["message"] != "Missing required field: uri" {
		t.Errorf("open response = %+v", responses[4])
	}
	if responses[5]["type"] != "error" {
		t.Errorf("pause before start = %+v", responses[5])
	}
}

func TestStartWithoutConfig(t *testing.T) {
	s, out := newTestServer(t, &stubProvider{})
	s.loadConfig = func() (*config.Config, error) { return nil, config.ErrNoConfig }

	send(t, s, map[string]any{"action": "start", "request_id": "s"})

	resp := firstResponseByType(out.responses(t), "error")
	if resp == nil || !strings.Contains(resp["message"].(string), "Config file not found") {
		t.Fatalf("expected config error, got %+v", out.responses(t))
	}
	if s.controller() != nil {
		t.Fatal("no controller should be built without config")
	}

	// Documents are still tracked so a later start has baselines.
	send(t, s, map[string]any{"action": "open", "uri": "file:///a.go", "text": "a\n"})
	if got := s.buffers.List(); len(got) != 1 {
		t.Fatalf("buffers = %v", got)
	}
}

func TestSessionRoundTrip(t *testing.T) {
	s, out := newTestServer(t, &stubProvider{
		models: []llm.ModelInfo{{ID: "gpt-test"}},
		reply:  "Consider naming this variable.",
	})

	send(t, s, map[string]any{"action": "open", "uri": "file:///x.go", "text": "a\nb\n"})
	send(t, s, map[string]any{"action": "start", "request_id": "start-1"})
	send(t, s, map[string]any{"action": "save", "uri": "file:///x.go", "text": "a\nc\n"})
	s.controller().Wait()

	responses := out.responses(t)
	notices := noticeMessages(responses)
	if len(notices) == 0 || notices[0] != "Pair programming session started!" {
		t.Fatalf("notices = %v", notices)
	}
	if countResponsesByType(responses, "panel_open") != 1 {
		t.Fatalf("expected one panel_open, got %+v", responses)
	}
	open := firstResponseByType(responses, "panel_open")
	if open["title"] != "Pair Programmer Chat" {
		t.Errorf("panel title = %v", open["title"])
	}
	update := firstResponseByType(responses, "panel")
	html, _ := update["html"].(string)
	if !strings.Contains(html, "Consider naming this variable.") || !strings.Contains(html, "<details") {
		t.Errorf("panel html missing exchange:\n%s", html)
	}

	send(t, s, map[string]any{"action": "status", "request_id": "st"})
	status := firstResponseByType(out.responses(t), "status")
	if status["running"] != true || status["transcript"] != float64(2) || status["panel_active"] != true {
		t.Fatalf("status = %+v", status)
	}
	if started, _ := status["started"].(string); started == "" || strings.HasPrefix(started, "0001-") {
		t.Fatalf("status started = %v", status["started"])
	}

	send(t, s, map[string]any{"action": "stop"})
	responses = out.responses(t)
	if countResponsesByType(responses, "panel_close") != 1 {
		t.Fatalf("stop should close the panel, got %+v", responses)
	}
	if notices := noticeMessages(responses); notices[len(notices)-1] != "Pair programming session stopped." {
		t.Errorf("last notice = %q", notices[len(notices)-1])
	}
}

func TestPanelClosedByUser(t *testing.T) {
	s, out := newTestServer(t, &stubProvider{
		models: []llm.ModelInfo{{ID: "gpt-test"}},
		reply:  "ok",
	})

	send(t, s, map[string]any{"action": "open", "uri": "file:///x.go", "text": "a\n"})
	send(t, s, map[string]any{"action": "start"})
	send(t, s, map[string]any{"action": "save", "uri": "file:///x.go", "text": "b\n"})
	s.controller().Wait()

	send(t, s, map[string]any{"action": "panel_closed"})
	if s.controller().Status().PanelActive {
		t.Fatal("panel should be forgotten after the user closes it")
	}
	send(t, s, map[string]any{"action": "stop"})
	if n := countResponsesByType(out.responses(t), "panel_close"); n != 0 {
		t.Fatalf("a user-closed panel must not be closed again, got %d panel_close", n)
	}
}

func TestSaveUnknownDocument(t *testing.T) {
	s, out := newTestServer(t, &stubProvider{})
	send(t, s, map[string]any{"action": "save", "uri": "file:///missing.go"})
	resp := firstResponseByType(out.responses(t), "error")
	if resp == nil || resp["message"] != "Document is not open" {
		t.Fatalf("responses = %+v", out.responses(t))
	}
}

func TestRunDeactivatesOnEOF(t *testing.T) {
	s, out := newTestServer(t, &stubProvider{models: []llm.ModelInfo{{ID: "m"}}})
	in := strings.NewReader(
		`{"action":"open","uri":"file:///a.go","text":"a\n"}` + "\n" +
			`{"action":"start","request_id":"1"}` + "\n")

	if err := s.run(context.Background(), in); err != nil {
		t.Fatalf("run: %v", err)
	}
	if s.controller().Status().Running {
		t.Fatal("session should be deactivated at EOF")
	}
	for _, msg := range noticeMessages(out.responses(t)) {
		if msg == "Pair programming session stopped." {
			t.Fatal("deactivation must not raise a stop notice")
		}
	}
}

func TestRunRejectsOversizedRequest(t *testing.T) {
	s, out := newTestServer(t, &stubProvider{})
	in := strings.NewReader(strings.Repeat("x", maxRequestSize+1) + "\n")

	if err := s.run(context.Background(), in); err == nil {
		t.Fatal("expected an error for an oversized line")
	}
	if resp := firstResponseByType(out.responses(t), "error"); resp == nil {
		t.Fatal("expected an error response")
	}
}

func TestWriteDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	if err := writeDefaultConfig(path, false); err != nil {
		t.Fatalf("writeDefaultConfig: %v", err)
	}
	if err := writeDefaultConfig(path, false); err == nil {
		t.Fatal("expected an error when the file exists")
	}
	if err := writeDefaultConfig(path, true); err != nil {
		t.Fatalf("overwrite: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("mode = %v, want 0600", info.Mode().Perm())
	}

	t.Setenv("PAIRPROG_API_KEY", "from-env")
	cfg, err := config.LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.QuietPeriodMS != 3000 || cfg.DiffAlgorithm != config.DiffUnified || cfg.APIKey != "from-env" {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestVersionCommand(t *testing.T) {
	root := newRootCmd()
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetArgs([]string{"version"})
	if err := root.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.HasPrefix(buf.String(), "pairprog "+strings.TrimSpace(version)) {
		t.Fatalf("output = %q", buf.String())
	}
}

func TestConfigShowRedactsKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("api_key: sk-secret\nmodel_family: gpt-4\n"), 0600); err != nil {
		t.Fatal(err)
	}

	root := newRootCmd()
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetArgs([]string{"config", "show", "--path", path})
	if err := root.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if strings.Contains(buf.String(), "sk-secret") {
		t.Fatalf("API key leaked:\n%s", buf.String())
	}
	if !strings.Contains(buf.String(), "model_family: gpt-4") {
		t.Fatalf("output:\n%s", buf.String())
	}
}
