package panel

import (
	"errors"
	"sync"

	"github.com/youruser/pairprog/internal/state"
)

var ErrDisposed = errors.New("panel surface is disposed")

// Host creates rendering surfaces.
type Host interface {
	Open(title string) (Surface, error)
}

// Surface is one scrollable panel accepting raw markup. OnDispose hooks run
// once, when the surface is closed by the user or by Dispose.
type Surface interface {
	SetContent(html string) error
	OnDispose(fn func())
	Dispose()
}

// Manager owns at most one live surface. It opens the surface lazily and
// forgets it as soon as it is disposed.
type Manager struct {
	host     Host
	renderer *Renderer
	title    string
	live     bool

	mu      sync.Mutex
	surface Surface
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLive renders the browser reload script and close button.
func WithLive() ManagerOption {
	return func(m *Manager) { m.live = true }
}

// NewManager creates a manager that opens surfaces on host.
func NewManager(host Host, renderer *Renderer, title string, opts ...ManagerOption) *Manager {
	m := &Manager{host: host, renderer: renderer, title: title}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Show renders entries onto the surface, opening it first if needed.
func (m *Manager) Show(entries []state.Entry) error {
	html, err := m.renderer.Render(View{Title: m.title, Entries: entries, Live: m.live})
	if err != nil {
		return err
	}

	m.mu.Lock()
	s := m.surface
	opened := false
	if s == nil {
		s, err = m.host.Open(m.title)
		if err != nil {
			m.mu.Unlock()
			return err
		}
		m.surface = s
		opened = true
	}
	m.mu.Unlock()

	if opened {
		s.OnDispose(func() { m.forget(s) })
	}
	return s.SetContent(html)
}

// forget drops the handle if it still points at s.
func (m *Manager) forget(s Surface) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.surface == s {
		m.surface = nil
	}
}

// Dispose tears the surface down. It is a no-op without one.
func (m *Manager) Dispose() {
	m.mu.Lock()
	s := m.surface
	m.surface = nil
	m.mu.Unlock()

	// Dispose runs the hooks, which take the lock again.
	if s != nil {
		s.Dispose()
	}
}

// Active reports whether a surface is open.
func (m *Manager) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.surface != nil
}

// Hooks is an embeddable helper that runs dispose callbacks exactly once.
type Hooks struct {
	mu       sync.Mutex
	fns      []func()
	disposed bool
}

// Add registers fn, running it at once if already disposed.
func (h *Hooks) Add(fn func()) {
	h.mu.Lock()
	if h.disposed {
		h.mu.Unlock()
		fn()
		return
	}
	h.fns = append(h.fns, fn)
	h.mu.Unlock()
}

// Fire marks the surface disposed and runs the hooks. It reports false when
// the hooks had already run.
func (h *Hooks) Fire() bool {
	h.mu.Lock()
	if h.disposed {
		h.mu.Unlock()
		return false
	}
	h.disposed = true
	fns := h.fns
	h.fns = nil
	h.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
	return true
}

// Disposed reports whether Fire has run.
func (h *Hooks) Disposed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.disposed
}
