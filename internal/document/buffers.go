package document

import (
	"sort"
	"sync"
)

// Buffers mirrors the editor's open buffers. The editor pushes every open,
// edit, save and close; Buffers stores the text and notifies subscribers.
type Buffers struct {
	mu    sync.RWMutex
	texts map[string]string
	hub   hub
}

// NewBuffers returns an empty buffer set.
func NewBuffers() *Buffers {
	return &Buffers{texts: make(map[string]string)}
}

// List returns the keys of the open buffers in sorted order.
func (b *Buffers) List() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	keys := make([]string, 0, len(b.texts))
	for k := range b.texts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Read returns the current text of key.
func (b *Buffers) Read(key string) (string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	text, ok := b.texts[key]
	if !ok {
		return "", ErrNotFound
	}
	return text, nil
}

// Subscribe registers fn for every subsequent event.
func (b *Buffers) Subscribe(fn func(Event)) Subscription {
	return b.hub.subscribe(fn)
}

// Subscribers returns the number of live subscriptions.
func (b *Buffers) Subscribers() int {
	return b.hub.count()
}

// Open records a newly opened buffer. Opening a known buffer replaces its
// text and reports a change instead.
func (b *Buffers) Open(key, text string) {
	b.mu.Lock()
	_, known := b.texts[key]
	b.texts[key] = text
	b.mu.Unlock()

	if known {
		b.hub.emit(Event{Kind: KindChanged, Key: key})
		return
	}
	b.hub.emit(Event{Kind: KindOpened, Key: key})
}

// Update replaces the text of key and reports a change. An unknown key is
// opened first.
func (b *Buffers) Update(key, text string) {
	b.mu.Lock()
	_, known := b.texts[key]
	b.texts[key] = text
	b.mu.Unlock()

	if !known {
		b.hub.emit(Event{Kind: KindOpened, Key: key})
	}
	b.hub.emit(Event{Kind: KindChanged, Key: key})
}

// Save reports that key was written. It returns ErrNotFound for an unknown
// buffer.
func (b *Buffers) Save(key string) error {
	b.mu.RLock()
	_, ok := b.texts[key]
	b.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}
	b.hub.emit(Event{Kind: KindSaved, Key: key})
	return nil
}

// SaveText stores the text the editor wrote and reports the save.
func (b *Buffers) SaveText(key, text string) {
	b.mu.Lock()
	_, known := b.texts[key]
	b.texts[key] = text
	b.mu.Unlock()

	if !known {
		b.hub.emit(Event{Kind: KindOpened, Key: key})
	}
	b.hub.emit(Event{Kind: KindSaved, Key: key})
}

// Close drops key and reports it. Closing an unknown buffer is a no-op.
func (b *Buffers) Close(key string) {
	b.mu.Lock()
	_, ok := b.texts[key]
	delete(b.texts, key)
	b.mu.Unlock()

	if ok {
		b.hub.emit(Event{Kind: KindClosed, Key: key})
	}
}
