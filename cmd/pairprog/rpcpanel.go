package main

import (
	"sync"

	"github.com/youruser/pairprog/internal/panel"
)

// rpcHost shows the panel inside the editor by sending panel_open, panel
// and panel_close messages over the protocol. The editor reports a panel
// the user closed with a panel_closed request.
type rpcHost struct {
	emit func(map[string]any)

	mu      sync.Mutex
	current *rpcSurface
}

func newRPCHost(emit func(map[string]any)) *rpcHost {
	return &rpcHost{emit: emit}
}

func (h *rpcHost) Open(title string) (panel.Surface, error) {
	s := &rpcSurface{host: h}

	h.mu.Lock()
	prev := h.current
	h.current = s
	h.mu.Unlock()

	if prev != nil {
		prev.Dispose()
	}
	h.emit(map[string]any{"type": "panel_open", "title": title})
	return s, nil
}

// closedByUser runs the dispose hooks of the current surface without
// echoing panel_close back to the editor.
func (h *rpcHost) closedByUser() {
	h.mu.Lock()
	s := h.current
	h.current = nil
	h.mu.Unlock()

	if s != nil {
		s.hooks.Fire()
	}
}

func (h *rpcHost) detach(s *rpcSurface) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.current == s {
		h.current = nil
	}
}

type rpcSurface struct {
	host  *rpcHost
	hooks panel.Hooks
}

func (s *rpcSurface) SetContent(html string) error {
	if s.hooks.Disposed() {
		return panel.ErrDisposed
	}
	s.host.emit(map[string]any{"type": "panel", "html": html})
	return nil
}

func (s *rpcSurface) OnDispose(fn func()) {
	s.hooks.Add(fn)
}

func (s *rpcSurface) Dispose() {
	if !s.hooks.Fire() {
		return
	}
	s.host.detach(s)
	s.host.emit(map[string]any{"type": "panel_close"})
}
