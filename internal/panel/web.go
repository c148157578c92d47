package panel

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/youruser/pairprog/internal/logging"
)

const (
	eventUpdate    = "update"
	eventClose     = "close"
	eventConnected = "connected"
	eventHeartbeat = "heartbeat"

	heartbeatInterval = 15 * time.Second
)

const idlePage = `<!DOCTYPE html><html><head><meta charset="utf-8"><title>pairprog</title></head>` +
	`<body><p>No active session.</p><script>new EventSource("/events").addEventListener("update",function(){location.reload()})</script></body></html>`

// WebOptions configures a WebHost.
type WebOptions struct {
	Addr     string
	Gatherer prometheus.Gatherer // served at /metrics when set
	Out      io.Writer           // receives the "running at" line
}

// WebHost is a Host that serves the panel to a local browser. The page
// reloads itself over server-sent events whenever the content changes.
type WebHost struct {
	opts   WebOptions
	router *gin.Engine

	mu      sync.Mutex
	current *webSurface
	nextSub int
	subs    map[int]chan string
}

// NewWebHost builds the host and its routes.
func NewWebHost(opts WebOptions) *WebHost {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	h := &WebHost{
		opts:   opts,
		router: router,
		subs:   make(map[int]chan string),
	}
	h.registerRoutes()
	return h
}

func (h *WebHost) registerRoutes() {
	h.router.GET("/", h.handleIndex)
	h.router.GET("/events", h.handleEvents)
	h.router.POST("/close", h.handleClose)
	h.router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "active": h.Active()})
	})
	if h.opts.Gatherer != nil {
		h.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.opts.Gatherer, promhttp.HandlerOpts{})))
	}
}

// Handler exposes the routes, mainly for tests.
func (h *WebHost) Handler() http.Handler {
	return h.router
}

// Open replaces any current surface with a fresh one.
func (h *WebHost) Open(title string) (Surface, error) {
	s := &webSurface{host: h, title: title}

	h.mu.Lock()
	prev := h.current
	h.current = s
	h.mu.Unlock()

	if prev != nil {
		prev.Dispose()
	}
	logging.Get().Debug("web panel opened", "title", title)
	return s, nil
}

// Active reports whether a surface is open.
func (h *WebHost) Active() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current != nil
}

func (h *WebHost) content() (string, bool) {
	h.mu.Lock()
	s := h.current
	h.mu.Unlock()
	if s == nil {
		return "", false
	}
	return s.Content(), true
}

func (h *WebHost) detach(s *webSurface) {
	h.mu.Lock()
	if h.current == s {
		h.current = nil
	}
	h.mu.Unlock()
}

func (h *WebHost) subscribe() (int, <-chan string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextSub
	h.nextSub++
	ch := make(chan string, 4)
	h.subs[id] = ch
	return id, ch
}

func (h *WebHost) unsubscribe(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, id)
}

// broadcast never blocks; a slow page only misses reloads it would
// coalesce anyway.
func (h *WebHost) broadcast(event string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- event:
		default:
		}
	}
}

func (h *WebHost) handleIndex(c *gin.Context) {
	html, ok := h.content()
	if !ok || html == "" {
		html = idlePage
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(html))
}

func (h *WebHost) handleClose(c *gin.Context) {
	h.mu.Lock()
	s := h.current
	h.mu.Unlock()
	if s == nil {
		c.JSON(http.StatusOK, gin.H{"closed": false})
		return
	}
	s.Dispose()
	c.JSON(http.StatusOK, gin.H{"closed": true})
}

func (h *WebHost) handleEvents(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	id, events := h.subscribe()
	defer h.unsubscribe(id)

	writeSSE(c.Writer, eventConnected, map[string]bool{"active": h.Active()})
	c.Writer.Flush()

	ctx := c.Request.Context()
	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			writeSSE(c.Writer, eventHeartbeat, map[string]string{
				"timestamp": time.Now().UTC().Format(time.RFC3339),
			})
			c.Writer.Flush()
		case ev := <-events:
			writeSSE(c.Writer, ev, map[string]string{"type": ev})
			c.Writer.Flush()
		}
	}
}

// writeSSE writes a single SSE event to the writer.
func writeSSE(w io.Writer, event string, data any) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, string(jsonData))
}

// ListenAndServe serves the panel until ctx is cancelled, then shuts down
// gracefully.
func (h *WebHost) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", h.opts.Addr)
	if err != nil {
		return fmt.Errorf("panel: %w", err)
	}
	return h.Serve(ctx, ln)
}

// Serve is ListenAndServe on an existing listener.
func (h *WebHost) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           h.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if h.opts.Out != nil {
		fmt.Fprintf(h.opts.Out, "Panel running at http://%s\n", ln.Addr())
	}

	if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("panel: %w", err)
	}
	return nil
}

type webSurface struct {
	host  *WebHost
	title string
	hooks Hooks

	mu   sync.Mutex
	html string
}

func (s *webSurface) Content() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.html
}

func (s *webSurface) SetContent(html string) error {
	if s.hooks.Disposed() {
		return ErrDisposed
	}
	s.mu.Lock()
	s.html = html
	s.mu.Unlock()
	s.host.broadcast(eventUpdate)
	return nil
}

func (s *webSurface) OnDispose(fn func()) {
	s.hooks.Add(fn)
}

func (s *webSurface) Dispose() {
	if !s.hooks.Fire() {
		return
	}
	s.host.detach(s)
	s.host.broadcast(eventClose)
	logging.Get().Debug("web panel disposed", "title", s.title)
}
