// Package document provides the open-document sources a session watches.
package document

import (
	"errors"
	"sort"
	"sync"
)

var (
	ErrNotFound = errors.New("document not found")
	ErrNotText  = errors.New("document is not a text file")
)

// Kind says what happened to a document.
type Kind string

const (
	KindOpened  Kind = "opened"
	KindChanged Kind = "changed"
	KindSaved   Kind = "saved"
	KindClosed  Kind = "closed"
)

// Event identifies the document an event is about. Handlers read the
// content themselves so they always see the live text.
type Event struct {
	Kind Kind
	Key  string
}

// Subscription is returned by Subscribe. Cancel is idempotent.
type Subscription interface {
	Cancel()
}

// Source enumerates open documents, reads their live text and reports
// changes to subscribers.
type Source interface {
	List() []string
	Read(key string) (string, error)
	Subscribe(fn func(Event)) Subscription
}

// hub fans events out to subscribers. Handlers run outside the lock, in the
// order events were emitted by a single caller.
type hub struct {
	mu   sync.Mutex
	next int
	subs map[int]func(Event)
}

func (h *hub) subscribe(fn func(Event)) Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs == nil {
		h.subs = make(map[int]func(Event))
	}
	id := h.next
	h.next++
	h.subs[id] = fn
	return &subscription{hub: h, id: id}
}

func (h *hub) emit(ev Event) {
	h.mu.Lock()
	ids := make([]int, 0, len(h.subs))
	for id := range h.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, h.subs[id])
	}
	h.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

type subscription struct {
	hub  *hub
	id   int
	once sync.Once
}

func (s *subscription) Cancel() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		delete(s.hub.subs, s.id)
		s.hub.mu.Unlock()
	})
}
