// Package session wires document events to the diff, debounce, model and
// panel components and owns the lifecycle of one pair-programming session.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"pkt.systems/pslog"

	"github.com/youruser/pairprog/internal/debounce"
	"github.com/youruser/pairprog/internal/diff"
	"github.com/youruser/pairprog/internal/document"
	"github.com/youruser/pairprog/internal/llm"
	"github.com/youruser/pairprog/internal/logging"
	"github.com/youruser/pairprog/internal/metrics"
	"github.com/youruser/pairprog/internal/panel"
	"github.com/youruser/pairprog/internal/state"
)

var ErrNotConfigured = errors.New("session needs a document source and a model sender")

// Sender performs model exchanges. *llm.Client implements it.
type Sender interface {
	Send(ctx context.Context, messages []llm.Message) (llm.Reply, error)
	Busy() bool
}

// Resetter is implemented by senders that cache a model choice. Stop calls
// it so the next session selects a model afresh.
type Resetter interface {
	Reset()
}

// Options configures a Controller. Documents and Models are required.
type Options struct {
	Documents          document.Source
	Models             Sender
	Panels             *panel.Manager
	Notifier           Notifier
	QuietPeriod        time.Duration
	Algorithm          diff.Algorithm
	ContextLines       int
	SystemPrompt       string
	CustomInstructions string
	Metrics            *metrics.Metrics
	Logger             pslog.Logger
	AfterFunc          debounce.AfterFunc
}

// Status is a snapshot of the controller for the status request.
type Status struct {
	Running     bool      `json:"running"`
	Enabled     bool      `json:"enabled"`
	SessionID   string    `json:"session_id,omitempty"`
	Started     time.Time `json:"started"`
	Documents   int       `json:"documents"`
	Pending     int       `json:"pending"`
	Transcript  int       `json:"transcript"`
	Busy        bool      `json:"busy"`
	PanelActive bool      `json:"panel_active"`
}

// Controller is the single owner of Session State. Event handlers, timer
// callbacks and finished exchanges run on different goroutines; every
// lifecycle change happens under mu and the lock is never held across a
// model call.
type Controller struct {
	opts      Options
	notify    Notifier
	log       pslog.Logger
	state     *state.Session
	scheduler *debounce.Scheduler

	mu      sync.Mutex
	running bool
	sub     document.Subscription
	ctx     context.Context

	inflight sync.WaitGroup
}

// New creates a stopped controller.
func New(opts Options) *Controller {
	if opts.Algorithm == "" {
		opts.Algorithm = diff.AlgorithmUnified
	}
	if opts.SystemPrompt == "" {
		opts.SystemPrompt = DefaultSystemPrompt()
	}
	c := &Controller{
		opts:   opts,
		notify: opts.Notifier,
		log:    opts.Logger,
		state:  state.New(),
		ctx:    context.Background(),
	}
	if c.notify == nil {
		c.notify = discardNotifier{}
	}
	if c.log == nil {
		c.log = logging.Get().Logger()
	}
	var schedOpts []debounce.Option
	if opts.AfterFunc != nil {
		schedOpts = append(schedOpts, debounce.WithAfterFunc(opts.AfterFunc))
	}
	c.scheduler = debounce.New(opts.QuietPeriod, c.quietExpired, schedOpts...)
	return c
}

// Start snapshots every open document as the baseline, then subscribes to
// document events. Starting a running session only raises a notice.
func (c *Controller) Start(ctx context.Context) error {
	if c.opts.Documents == nil || c.opts.Models == nil {
		return ErrNotConfigured
	}

	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		c.notify.Notify(LevelInfo, msgAlreadyRunning)
		return nil
	}

	id := c.state.Begin()
	keys := c.opts.Documents.List()
	for _, key := range keys {
		text, err := c.opts.Documents.Read(key)
		if err != nil {
			c.log.Debug("baseline read failed", "resource", key, "error", err)
			continue
		}
		c.state.SetBaseline(key, text)
	}
	// Baselines first so the first edit diffs against the true start.
	c.sub = c.opts.Documents.Subscribe(c.handle)
	c.running = true
	c.ctx = context.WithoutCancel(ctx)
	c.mu.Unlock()

	c.log.Info("session started", "session", id, "documents", len(keys), "quiet_period", c.scheduler.QuietPeriod().String())
	c.notify.Notify(LevelInfo, msgStarted)
	if len(keys) == 0 {
		c.notify.Notify(LevelInfo, msgNoDocuments)
	}
	return nil
}

// Stop ends the session and releases everything it holds. Stopping a
// stopped controller does nothing. Replies still in flight are discarded
// when they arrive.
func (c *Controller) Stop(ctx context.Context) {
	if !c.stop() {
		return
	}
	c.notify.Notify(LevelInfo, msgStopped)
}

// Deactivate is the host unload hook. It behaves like Stop without
// notifying, since the user interface is going away.
func (c *Controller) Deactivate(ctx context.Context) {
	c.stop()
}

func (c *Controller) stop() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return false
	}
	id := c.state.ID()

	if c.sub != nil {
		c.sub.Cancel()
		c.sub = nil
	}
	cancelled := c.scheduler.CancelAll()
	c.state.Reset()
	c.running = false
	if r, ok := c.opts.Models.(Resetter); ok {
		r.Reset()
	}
	if c.opts.Panels != nil {
		c.opts.Panels.Dispose()
	}

	c.log.Info("session stopped", "session", id, "cancelled_timers", cancelled)
	return true
}

// Pause stops producing diffs without ending the session.
func (c *Controller) Pause() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		c.notify.Notify(LevelInfo, msgNotRunning)
		return
	}
	c.state.SetEnabled(false)
	n := c.scheduler.CancelAll()
	c.mu.Unlock()

	c.log.Info("session paused", "cancelled_timers", n)
	c.notify.Notify(LevelInfo, msgPaused)
}

// Resume re-enables a paused session. Documents are re-snapshotted so
// edits made while paused are not sent.
func (c *Controller) Resume() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		c.notify.Notify(LevelInfo, msgNotRunning)
		return
	}
	for _, key := range c.opts.Documents.List() {
		if text, err := c.opts.Documents.Read(key); err == nil {
			c.state.SetBaseline(key, text)
		}
	}
	c.state.SetEnabled(true)
	c.mu.Unlock()

	c.log.Info("session resumed")
	c.notify.Notify(LevelInfo, msgResumed)
}

// Status reports the current state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Status{
		Running:    c.running,
		Enabled:    c.state.Enabled(),
		SessionID:  c.state.ID(),
		Started:    c.state.Started(),
		Documents:  c.state.SnapshotCount(),
		Pending:    c.scheduler.Len(),
		Transcript: c.state.Len(),
	}
	if c.opts.Models != nil {
		st.Busy = c.opts.Models.Busy()
	}
	if c.opts.Panels != nil {
		st.PanelActive = c.opts.Panels.Active()
	}
	return st
}

// Transcript returns a copy of the current transcript.
func (c *Controller) Transcript() []state.Entry {
	return c.state.Transcript()
}

// Wait blocks until every exchange started so far has returned.
func (c *Controller) Wait() {
	c.inflight.Wait()
}

func (c *Controller) handle(ev document.Event) {
	if ev.Kind == document.KindClosed {
		c.scheduler.Cancel(ev.Key)
		c.state.Forget(ev.Key)
		return
	}
	if !c.state.Enabled() {
		return
	}

	text, err := c.opts.Documents.Read(ev.Key)
	if err != nil {
		c.log.Debug("read failed", "resource", ev.Key, "event", string(ev.Kind), "error", err)
		return
	}

	switch ev.Kind {
	case document.KindOpened:
		c.state.SetBaselineIfAbsent(ev.Key, text)
	case document.KindChanged:
		c.scheduler.Schedule(ev.Key, text)
	case document.KindSaved:
		c.scheduler.Cancel(ev.Key)
		c.dispatch(ev.Key, text, metrics.TriggerSave)
	}
}

// quietExpired runs when a resource has been quiet for the full period.
// The emission only goes ahead when the live text still matches the text
// the timer was scheduled with.
func (c *Controller) quietExpired(key, snapshot string) {
	if !c.state.Enabled() {
		return
	}
	current, err := c.opts.Documents.Read(key)
	if err != nil {
		c.log.Debug("read at quiet expiry failed", "resource", key, "error", err)
		return
	}
	if current != snapshot {
		c.opts.Metrics.EmissionSuperseded()
		c.log.Debug("emission superseded", "resource", key)
		return
	}
	c.dispatch(key, current, metrics.TriggerQuiet)
}

func (c *Controller) dispatch(key, content, trigger string) {
	base, ok := c.state.Baseline(key)
	if !ok {
		// Nothing to compare against yet; this text becomes the baseline.
		c.state.SetBaseline(key, content)
		return
	}

	patch, changed := diff.Compute(c.opts.Algorithm, key, base, content, c.opts.ContextLines)
	if !changed {
		c.opts.Metrics.DiffSkipped()
		c.log.Debug("no delta", "resource", key, "trigger", trigger)
		if trigger == metrics.TriggerSave {
			c.notify.Notify(LevelInfo, msgNothingToSend)
		}
		return
	}
	c.opts.Metrics.DiffComputed(trigger)
	stats := diff.StatsFor(c.opts.Algorithm, patch)
	version, _ := c.state.Version(key)

	if c.opts.Models.Busy() {
		c.opts.Metrics.Exchange(metrics.OutcomeBusy, 0)
		c.log.Info("diff dropped, request in flight", "resource", key)
		c.notify.Notify(LevelInfo, msgBusy)
		return
	}

	c.mu.Lock()
	if !c.running || !c.state.Enabled() {
		c.mu.Unlock()
		return
	}
	id := c.state.ID()
	ctx := c.ctx
	messages := buildMessages(c.opts.SystemPrompt, c.opts.CustomInstructions, c.state.Transcript(), key, patch)
	c.inflight.Add(1)
	c.mu.Unlock()

	sent := state.Entry{
		Resource: key,
		Text:     patch,
		Version:  version,
		Added:    stats.Added,
		Removed:  stats.Removed,
	}
	c.log.Debug("dispatching diff", "resource", key, "trigger", trigger, "added", stats.Added, "removed", stats.Removed, "messages", len(messages))

	go func() {
		defer c.inflight.Done()
		c.exchange(ctx, id, sent, content, messages)
	}()
}

func (c *Controller) exchange(ctx context.Context, sessionID string, sent state.Entry, content string, messages []llm.Message) {
	reply, err := c.opts.Models.Send(ctx, messages)
	if err != nil {
		c.reportFailure(sent.Resource, err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running || c.state.ID() != sessionID {
		c.opts.Metrics.Exchange(metrics.OutcomeDiscarded, reply.Duration)
		c.log.Info("late reply discarded", "session", sessionID, "resource", sent.Resource)
		return
	}

	ex := state.Exchange{
		Sent:     sent,
		Received: state.Entry{Text: reply.Text, Model: reply.Model},
	}
	if _, err := c.state.Commit(sessionID, ex, content); err != nil {
		c.opts.Metrics.Exchange(metrics.OutcomeDiscarded, reply.Duration)
		c.log.Info("reply not recorded", "resource", sent.Resource, "error", err)
		return
	}
	c.opts.Metrics.Exchange(metrics.OutcomeSent, reply.Duration)
	c.log.Info("exchange recorded", "resource", sent.Resource, "model", reply.Model, "duration", reply.Duration.String(), "dropped_context", reply.Dropped)

	if c.opts.Panels != nil {
		if err := c.opts.Panels.Show(c.state.Transcript()); err != nil {
			c.log.Error("panel update failed", "error", err)
		}
	}
}

func (c *Controller) reportFailure(resource string, err error) {
	switch {
	case errors.Is(err, llm.ErrBusy):
		c.opts.Metrics.Exchange(metrics.OutcomeBusy, 0)
		c.log.Info("diff dropped, request in flight", "resource", resource)
		c.notify.Notify(LevelInfo, msgBusy)
	case errors.Is(err, llm.ErrNoModel):
		c.opts.Metrics.Exchange(metrics.OutcomeNoModel, 0)
		c.log.Info("no model available", "resource", resource)
		c.notify.Notify(LevelInfo, msgNoModel)
	case errors.Is(err, llm.ErrEmptyReply):
		c.opts.Metrics.Exchange(metrics.OutcomeFailed, 0)
		c.notify.Notify(LevelWarn, msgEmptyReply)
	default:
		c.opts.Metrics.Exchange(metrics.OutcomeFailed, 0)
		c.log.Error("model request failed", "resource", resource, "error", err)
		c.notify.Notify(LevelError, "Pair programmer request failed: "+err.Error())
	}
}
