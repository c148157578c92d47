// Package debounce coalesces bursts of per-key events into a single trailing
// emission once a key has been quiet for a fixed period.
package debounce

import (
	"sync"
	"time"
)

// DefaultQuietPeriod is used when New is given a non-positive duration.
const DefaultQuietPeriod = 3 * time.Second

// FireFunc receives the key and the snapshot passed to the Schedule call
// whose quiet period elapsed.
type FireFunc func(key, snapshot string)

// Timer is the subset of *time.Timer the scheduler needs.
type Timer interface {
	Stop() bool
}

// AfterFunc starts a timer that calls f after d.
type AfterFunc func(d time.Duration, f func()) Timer

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithAfterFunc replaces time.AfterFunc, letting tests drive timers by hand.
func WithAfterFunc(fn AfterFunc) Option {
	return func(s *Scheduler) {
		if fn != nil {
			s.after = fn
		}
	}
}

type pending struct {
	seq      uint64
	timer    Timer
	snapshot string
}

// Scheduler keeps at most one pending timer per key.
type Scheduler struct {
	quiet time.Duration
	fire  FireFunc
	after AfterFunc

	mu      sync.Mutex
	seq     uint64
	pending map[string]pending
}

// New returns a scheduler that calls fire once a key has been quiet for quiet.
func New(quiet time.Duration, fire FireFunc, opts ...Option) *Scheduler {
	if quiet <= 0 {
		quiet = DefaultQuietPeriod
	}
	s := &Scheduler{
		quiet:   quiet,
		fire:    fire,
		pending: make(map[string]pending),
		after: func(d time.Duration, f func()) Timer {
			return time.AfterFunc(d, f)
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// QuietPeriod returns the configured quiet period.
func (s *Scheduler) QuietPeriod() time.Duration {
	return s.quiet
}

// Schedule cancels any pending timer for key and starts a new one carrying
// snapshot.
func (s *Scheduler) Schedule(key, snapshot string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.pending[key]; ok {
		prev.timer.Stop()
	}
	s.seq++
	seq := s.seq
	timer := s.after(s.quiet, func() { s.expire(key, seq) })
	s.pending[key] = pending{seq: seq, timer: timer, snapshot: snapshot}
}

// expire runs on the timer goroutine. A timer that was superseded after it
// had already started running finds a newer sequence and does nothing.
func (s *Scheduler) expire(key string, seq uint64) {
	s.mu.Lock()
	p, ok := s.pending[key]
	if !ok || p.seq != seq {
		s.mu.Unlock()
		return
	}
	delete(s.pending, key)
	s.mu.Unlock()

	if s.fire != nil {
		s.fire(key, p.snapshot)
	}
}

// Cancel stops the pending timer for key. It reports whether one existed.
func (s *Scheduler) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pending[key]
	if !ok {
		return false
	}
	p.timer.Stop()
	delete(s.pending, key)
	return true
}

// CancelAll stops every pending timer and returns how many there were.
func (s *Scheduler) CancelAll() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.pending)
	for key, p := range s.pending {
		p.timer.Stop()
		delete(s.pending, key)
	}
	return n
}

// Len returns the number of pending timers.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}
