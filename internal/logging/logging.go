package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
	"pkt.systems/pslog"
)

// Logger writes structured debug records to a rotated file and mirrors
// errors to stderr. Stdout is never touched: it carries the editor protocol.
type Logger struct {
	mu      sync.Mutex
	file    io.WriteCloser
	log     pslog.Logger
	stderr  pslog.Logger
	enabled bool
}

var (
	defaultLogger *Logger
	once          sync.Once
)

// Get returns the default logger instance.
func Get() *Logger {
	once.Do(func() {
		defaultLogger = &Logger{}
		defaultLogger.init()
	})
	return defaultLogger
}

// New builds a logger writing structured records to w. Used by tests and
// by embedders that manage their own output.
func New(w io.Writer, debug bool) *Logger {
	return &Logger{
		log:     newStructured(w, debug),
		stderr:  newStructured(io.Discard, false),
		enabled: true,
	}
}

func newStructured(w io.Writer, debug bool) pslog.Logger {
	opts := pslog.Options{
		Mode:          pslog.ModeStructured,
		NoColor:       true,
		VerboseFields: true,
		MinLevel:      pslog.InfoLevel,
	}
	if debug {
		opts.MinLevel = pslog.DebugLevel
	}
	return pslog.NewWithOptions(w, opts)
}

func (l *Logger) init() {
	l.stderr = pslog.NewWithOptions(os.Stderr, pslog.Options{
		Mode:     pslog.ModeConsole,
		MinLevel: pslog.ErrorLevel,
	})

	// Check if debug mode is enabled via env var or marker file
	debugEnv := os.Getenv("PAIRPROG_DEBUG")

	home, err := os.UserHomeDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "pairprog log: failed to get home dir: %v\n", err)
		l.log = newStructured(io.Discard, false)
		return
	}

	debugFile := filepath.Join(home, ".pairprog", "debug")
	_, debugFileErr := os.Stat(debugFile)
	debugFileExists := debugFileErr == nil

	if debugEnv != "1" && !debugFileExists {
		l.enabled = false
		l.log = newStructured(io.Discard, false)
		return
	}

	logsDir := filepath.Join(home, ".pairprog", "logs")
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "pairprog log: failed to create logs dir %s: %v\n", logsDir, err)
		l.log = newStructured(io.Discard, false)
		return
	}

	logPath := filepath.Join(logsDir, "pairprog.log")
	l.file = &lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    10,
		MaxAge:     7,
		MaxBackups: 3,
		Compress:   true,
	}
	l.log = newStructured(l.file, true)
	l.enabled = true

	if debugEnv == "1" {
		l.log.Info("logging started", "enabled_by", "PAIRPROG_DEBUG=1", "file", logPath)
	} else {
		l.log.Info("logging started", "enabled_by", debugFile, "file", logPath)
	}
}

// Enabled returns whether debug logging is enabled.
func (l *Logger) Enabled() bool {
	return l.enabled
}

// Logger returns the underlying structured logger for components that take
// a pslog.Logger.
func (l *Logger) Logger() pslog.Logger {
	return l.log
}

// Debug logs a debug record (file only).
func (l *Logger) Debug(msg string, kv ...any) {
	if !l.enabled {
		return
	}
	l.log.Debug(msg, kv...)
}

// Info logs an info record (file only).
func (l *Logger) Info(msg string, kv ...any) {
	if !l.enabled {
		return
	}
	l.log.Info(msg, kv...)
}

// Error logs an error record (file and stderr).
func (l *Logger) Error(msg string, kv ...any) {
	if l.stderr != nil {
		l.stderr.Error(msg, kv...)
	}
	if l.enabled {
		l.log.Error(msg, kv...)
	}
}

// Request logs an incoming protocol request.
func (l *Logger) Request(action string, raw string) {
	if !l.enabled {
		return
	}
	l.log.Debug("request", "action", action, "raw", truncate(raw, 500))
}

// Response logs an outgoing protocol message.
func (l *Logger) Response(msgType string, raw string) {
	if !l.enabled {
		return
	}
	l.log.Debug("response", "type", msgType, "raw", truncate(raw, 500))
}

// Stream logs a model stream event.
func (l *Logger) Stream(eventType string, content string) {
	if !l.enabled {
		return
	}
	l.log.Debug("stream", "event", eventType, "content", truncate(content, 200))
}

// Close closes the log file.
func (l *Logger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
