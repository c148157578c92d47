package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/spf13/cobra"

	"github.com/youruser/pairprog/internal/config"
	"github.com/youruser/pairprog/internal/diff"
	"github.com/youruser/pairprog/internal/document"
	"github.com/youruser/pairprog/internal/llm"
	"github.com/youruser/pairprog/internal/metrics"
	"github.com/youruser/pairprog/internal/panel"
	"github.com/youruser/pairprog/internal/session"
)

const maxRequestSize = 1024 * 1024

type serveFlags struct {
	configPath  string
	metricsAddr string
}

func newServeCmd() *cobra.Command {
	var flags serveFlags
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Speak the editor protocol on stdin/stdout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, flags)
		},
	}
	cmd.Flags().StringVar(&flags.configPath, "config", "", "config file (default ~/.config/pairprog/config.yaml)")
	cmd.Flags().StringVar(&flags.metricsAddr, "metrics-addr", "", "serve /metrics and /healthz on this address")
	return cmd
}

func runServe(cmd *cobra.Command, flags serveFlags) error {
	ctx := cmd.Context()
	if os.Getenv("PAIRPROG_DEBUG") == "1" {
		fmt.Fprintf(cmd.ErrOrStderr(), "pairprog: process started with PAIRPROG_DEBUG=1\n")
	}
	logBuildInfo()

	srv := newServer(cmd.OutOrStdout())
	if flags.configPath != "" {
		path := flags.configPath
		srv.loadConfig = func() (*config.Config, error) { return config.LoadFrom(path) }
	}

	if flags.metricsAddr != "" {
		web := panel.NewWebHost(panel.WebOptions{Addr: flags.metricsAddr, Gatherer: srv.metrics.Registry()})
		go func() {
			if err := web.ListenAndServe(ctx); err != nil {
				log.Error("metrics listener failed", "error", err)
			}
		}()
	}

	return srv.run(ctx, cmd.InOrStdin())
}

// server handles one editor connection. Requests are handled in order on
// the read loop; notices and panel updates are written from other
// goroutines, so every write goes through respond.
type server struct {
	out       io.Writer
	respondMu sync.Mutex

	buffers *document.Buffers
	host    *rpcHost
	metrics *metrics.Metrics

	loadConfig  func() (*config.Config, error)
	newProvider func(name string, cfg llm.ProviderConfig) (llm.Provider, error)

	sessionMu sync.Mutex
	ctrl      *session.Controller
}

func newServer(out io.Writer) *server {
	s := &server{
		out:         out,
		buffers:     document.NewBuffers(),
		metrics:     metrics.New(),
		loadConfig:  config.Load,
		newProvider: llm.NewProvider,
	}
	s.host = newRPCHost(func(data map[string]any) { s.respond("", data) })
	return s
}

// run reads requests until EOF or until ctx is cancelled. Either way the
// session is deactivated before returning.
func (s *server) run(ctx context.Context, in io.Reader) error {
	defer s.deactivate(ctx)

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 0, 64*1024), maxRequestSize)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			log.Info("serve interrupted")
			return nil
		case line := <-lines:
			s.handleRequest(ctx, line)
		case err := <-scanErr:
			if errors.Is(err, bufio.ErrTooLong) {
				s.respond("", map[string]any{
					"type":    "error",
					"message": "Request too large (max 1MB).",
				})
				return err
			}
			if err != nil {
				return fmt.Errorf("stdin: %w", err)
			}
			log.Info("stdin closed")
			return nil
		}
	}
}

func (s *server) deactivate(ctx context.Context) {
	if c := s.controller(); c != nil {
		c.Deactivate(ctx)
	}
}

func (s *server) controller() *session.Controller {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()
	return s.ctrl
}

// ensureSession builds the controller on first use. Configuration is read
// here rather than at startup so that ping and document tracking work
// before the user has configured a model.
func (s *server) ensureSession() (*session.Controller, error) {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()
	if s.ctrl != nil {
		return s.ctrl, nil
	}

	cfg, err := s.loadConfig()
	if err != nil {
		return nil, err
	}
	algo, err := diff.ParseAlgorithm(cfg.DiffAlgorithm)
	if err != nil {
		return nil, err
	}
	provider, err := s.newProvider(cfg.Provider, llm.ProviderConfig{APIKey: cfg.APIKey, BaseURL: cfg.BaseURL})
	if err != nil {
		return nil, err
	}
	renderer, err := panel.NewRenderer()
	if err != nil {
		return nil, err
	}

	client := llm.NewClient(provider, llm.Options{
		Family:  cfg.ModelFamily,
		Budget:  cfg.ContextTokenBudget,
		Timeout: cfg.RequestTimeout(),
	})
	s.ctrl = session.New(session.Options{
		Documents:          s.buffers,
		Models:             client,
		Panels:             panel.NewManager(s.host, renderer, cfg.Panel.Title),
		Notifier:           session.NotifierFunc(s.notice),
		QuietPeriod:        cfg.QuietPeriod(),
		Algorithm:          algo,
		ContextLines:       cfg.DiffContextLines,
		CustomInstructions: cfg.CustomInstructions,
		Metrics:            s.metrics,
		Logger:             log.Logger(),
	})
	log.Info("session configured", "provider", provider.Name(), "family", cfg.ModelFamily, "algorithm", string(algo), "quiet_period", cfg.QuietPeriod().String())
	return s.ctrl, nil
}

func (s *server) notice(level session.Level, message string) {
	s.respond("", map[string]any{"type": "notice", "level": string(level), "message": message})
}

func (s *server) handleRequest(ctx context.Context, line string) {
	var req map[string]any
	if err := json.Unmarshal([]byte(line), &req); err != nil {
		log.Error("invalid JSON request", "line", line)
		s.respond("", map[string]any{"type": "error", "message": "Invalid JSON"})
		return
	}

	action, _ := req["action"].(string)
	log.Request(action, line)
	reqID := requestID(req)

	switch action {
	case "ping":
		s.respond(reqID, map[string]any{"type": "ok"})

	case "version":
		s.respond(reqID, map[string]any{"type": "version", "version": versionString()})

	case "start":
		ctrl, err := s.ensureSession()
		if err != nil {
			s.respond(reqID, errorResponse(err))
			return
		}
		if err := ctrl.Start(ctx); err != nil {
			s.respond(reqID, errorResponse(err))
			return
		}
		s.respond(reqID, map[string]any{"type": "ok"})

	case "stop":
		if ctrl := s.controller(); ctrl != nil {
			ctrl.Stop(ctx)
		}
		s.respond(reqID, map[string]any{"type": "ok"})

	case "pause", "resume":
		ctrl := s.controller()
		if ctrl == nil {
			s.respond(reqID, errorResponse(errNotStarted))
			return
		}
		if action == "pause" {
			ctrl.Pause()
		} else {
			ctrl.Resume()
		}
		s.respond(reqID, map[string]any{"type": "ok"})

	case "status":
		resp := map[string]any{"type": "status", "running": false, "documents_open": len(s.buffers.List())}
		if ctrl := s.controller(); ctrl != nil {
			st := ctrl.Status()
			resp["running"] = st.Running
			resp["enabled"] = st.Enabled
			resp["session_id"] = st.SessionID
			resp["started"] = st.Started
			resp["documents"] = st.Documents
			resp["pending"] = st.Pending
			resp["transcript"] = st.Transcript
			resp["busy"] = st.Busy
			resp["panel_active"] = st.PanelActive
		}
		s.respond(reqID, resp)

	case "open", "change":
		uri, text, ok := documentFields(req)
		if !ok {
			s.respond(reqID, map[string]any{"type": "error", "message": "Missing required field: uri"})
			return
		}
		if action == "open" {
			s.buffers.Open(uri, text)
		} else {
			s.buffers.Update(uri, text)
		}
		s.respond(reqID, map[string]any{"type": "ok"})

	case "save":
		uri, _ := req["uri"].(string)
		if uri == "" {
			s.respond(reqID, map[string]any{"type": "error", "message": "Missing required field: uri"})
			return
		}
		if text, ok := req["text"].(string); ok {
			s.buffers.SaveText(uri, text)
		} else if err := s.buffers.Save(uri); err != nil {
			s.respond(reqID, errorResponse(err))
			return
		}
		s.respond(reqID, map[string]any{"type": "ok"})

	case "close":
		uri, _ := req["uri"].(string)
		if uri == "" {
			s.respond(reqID, map[string]any{"type": "error", "message": "Missing required field: uri"})
			return
		}
		s.buffers.Close(uri)
		s.respond(reqID, map[string]any{"type": "ok"})

	case "panel_closed":
		s.host.closedByUser()
		s.respond(reqID, map[string]any{"type": "ok"})

	default:
		s.respond(reqID, map[string]any{"type": "error", "message": "Unknown action: " + action})
	}
}

func documentFields(req map[string]any) (uri, text string, ok bool) {
	uri, _ = req["uri"].(string)
	text, _ = req["text"].(string)
	return uri, text, uri != ""
}

var errNotStarted = errors.New("session not started")

func errorResponse(err error) map[string]any {
	var msg string
	switch {
	case errors.Is(err, errNotStarted):
		msg = "Pair programming session is not running."
	case errors.Is(err, config.ErrNoConfig):
		msg = "Config file not found: ~/.config/pairprog/config.yaml (run `pairprog config init`)"
	case errors.Is(err, config.ErrNoAPIKey):
		msg = "API key not set in config"
	case errors.Is(err, config.ErrInvalidConfig),
		errors.Is(err, config.ErrInvalidProvider),
		errors.Is(err, config.ErrInvalidDiffAlgorithm),
		errors.Is(err, config.ErrInvalidQuietPeriod):
		msg = "Invalid config: " + err.Error()
	case errors.Is(err, llm.ErrUnknownProvider):
		msg = err.Error()
	case errors.Is(err, document.ErrNotFound):
		msg = "Document is not open"
	case errors.Is(err, session.ErrNotConfigured):
		msg = "Session is not configured"
	default:
		msg = err.Error()
	}
	return map[string]any{"type": "error", "message": msg}
}

func (s *server) respond(reqID string, data map[string]any) {
	out, _ := json.Marshal(addResponseID(reqID, data))
	msgType, _ := data["type"].(string)
	s.respondMu.Lock()
	defer s.respondMu.Unlock()
	log.Response(msgType, string(out))
	fmt.Fprintln(s.out, string(out))
}

func addResponseID(reqID string, data map[string]any) map[string]any {
	if reqID == "" {
		return data
	}
	data["request_id"] = reqID
	return data
}

func requestID(req map[string]any) string {
	switch v := req["request_id"].(type) {
	case string:
		return v
	case float64:
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%v", v)
	case int:
		return fmt.Sprintf("%d", v)
	case int64:
		return fmt.Sprintf("%d", v)
	default:
		return ""
	}
}
