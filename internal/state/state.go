package state

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors for expected conditions.
var (
	ErrNoBaseline   = errors.New("no baseline recorded for resource")
	ErrEmptyReply   = errors.New("exchange has an empty reply")
	ErrSessionEnded = errors.New("session has ended")
)

// Session holds the runtime state of one pair-programming session: the
// content last sent per resource and the transcript. It lives from start to
// stop and is safe for concurrent use.
type Session struct {
	mu         sync.Mutex
	id         string
	enabled    bool
	started    time.Time
	snapshots  map[string]string
	transcript []Entry
	now        func() time.Time
}

// New creates a disabled, empty session.
func New() *Session {
	return &Session{
		snapshots: make(map[string]string),
		now:       time.Now,
	}
}

// Begin gives the session a fresh id and enables it. Previous contents are
// dropped.
func (s *Session) Begin() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = uuid.NewString()
	s.enabled = true
	s.started = s.now()
	s.snapshots = make(map[string]string)
	s.transcript = nil
	return s.id
}

// ID returns the current session id, empty when no session has begun.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Started returns when Begin was last called.
func (s *Session) Started() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// Enabled reports whether events should produce diffs.
func (s *Session) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// SetEnabled toggles event handling without touching the recorded state.
func (s *Session) SetEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = enabled
}

// Baseline returns the content last sent for key.
func (s *Session) Baseline(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	content, ok := s.snapshots[key]
	return content, ok
}

// SetBaseline records content as the last-sent snapshot for key.
func (s *Session) SetBaseline(key, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[key] = content
}

// SetBaselineIfAbsent records content only when key has no snapshot yet.
// It reports whether the snapshot was stored.
func (s *Session) SetBaselineIfAbsent(key, content string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.snapshots[key]; ok {
		return false
	}
	s.snapshots[key] = content
	return true
}

// Forget drops the snapshot for key.
func (s *Session) Forget(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snapshots, key)
}

// Version returns the short content id of the baseline for key.
func (s *Session) Version(key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	content, ok := s.snapshots[key]
	if !ok {
		return "", ErrNoBaseline
	}
	return HashFileVersion(key, content), nil
}

// Commit appends a completed exchange to the transcript and advances the
// baseline of the resource to content. The sent and received entries are
// appended together so a failed attempt never leaves half an exchange.
// Commit refuses when sessionID no longer matches the running session.
func (s *Session) Commit(sessionID string, ex Exchange, content string) (Exchange, error) {
	if ex.Received.Text == "" {
		return Exchange{}, ErrEmptyReply
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.id == "" || s.id != sessionID {
		return Exchange{}, ErrSessionEnded
	}

	now := s.now()
	ex.Sent.Role = RoleSent
	ex.Received.Role = RoleReceived
	if ex.Sent.ID == "" {
		ex.Sent.ID = uuid.NewString()
	}
	if ex.Received.ID == "" {
		ex.Received.ID = uuid.NewString()
	}
	if ex.Sent.Timestamp.IsZero() {
		ex.Sent.Timestamp = now
	}
	if ex.Received.Timestamp.IsZero() {
		ex.Received.Timestamp = now
	}
	if ex.Received.Resource == "" {
		ex.Received.Resource = ex.Sent.Resource
	}

	s.transcript = append(s.transcript, ex.Sent, ex.Received)
	if ex.Sent.Resource != "" {
		s.snapshots[ex.Sent.Resource] = content
	}
	return ex, nil
}

// Transcript returns a copy of the transcript in insertion order.
func (s *Session) Transcript() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.transcript))
	copy(out, s.transcript)
	return out
}

// Len returns the number of transcript entries.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.transcript)
}

// SnapshotCount returns the number of resources with a baseline.
func (s *Session) SnapshotCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.snapshots)
}

// Reset clears snapshots and transcript, disables the session and ends it.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = ""
	s.enabled = false
	s.started = time.Time{}
	s.snapshots = make(map[string]string)
	s.transcript = nil
}
