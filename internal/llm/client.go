package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/youruser/pairprog/internal/logging"
)

var (
	ErrRequestFailed   = errors.New("API request failed")
	ErrStreamError     = errors.New("stream error")
	ErrNoModel         = errors.New("no model available")
	ErrBusy            = errors.New("a request is already in flight")
	ErrEmptyReply      = errors.New("model returned an empty reply")
	ErrUnknownProvider = errors.New("unknown provider")
	log                = logging.Get()
)

const defaultRequestTimeout = 120 * time.Second

// Options configures a Client.
type Options struct {
	Family  string        // case-insensitive substring filter on model ids
	Budget  int           // context token budget, zero disables trimming
	Timeout time.Duration // per-request timeout
}

// Client performs one exchange at a time with a Provider.
type Client struct {
	provider Provider
	family   string
	budget   int
	timeout  time.Duration
	inflight *semaphore.Weighted
	busy     atomic.Bool

	mu    sync.Mutex
	model string
}

// NewClient creates a client for provider.
func NewClient(provider Provider, opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &Client{
		provider: provider,
		family:   strings.ToLower(strings.TrimSpace(opts.Family)),
		budget:   opts.Budget,
		timeout:  timeout,
		inflight: semaphore.NewWeighted(1),
	}
}

// SelectModel returns the first model whose id contains the configured
// family. The choice is remembered until Reset.
func (c *Client) SelectModel(ctx context.Context) (string, error) {
	c.mu.Lock()
	model := c.model
	c.mu.Unlock()
	if model != "" {
		return model, nil
	}

	models, err := c.provider.ListModels(ctx)
	if err != nil {
		return "", err
	}
	for _, m := range models {
		if c.family == "" || strings.Contains(strings.ToLower(m.ID), c.family) {
			model = m.ID
			break
		}
	}
	if model == "" {
		log.Info("no model matched", "provider", c.provider.Name(), "family", c.family, "available", len(models))
		return "", ErrNoModel
	}

	c.mu.Lock()
	c.model = model
	c.mu.Unlock()
	log.Debug("model selected", "provider", c.provider.Name(), "model", model)
	return model, nil
}

// Reset forgets the selected model.
func (c *Client) Reset() {
	c.mu.Lock()
	c.model = ""
	c.mu.Unlock()
}

// Busy reports whether an exchange is in flight. It never touches the
// semaphore, so asking cannot make a concurrent Send fail.
func (c *Client) Busy() bool {
	return c.busy.Load()
}

// Send performs one exchange. A call made while another is in flight is
// refused with ErrBusy; it is never queued. The fragments of the reply are
// concatenated in arrival order.
func (c *Client) Send(ctx context.Context, messages []Message) (Reply, error) {
	if !c.inflight.TryAcquire(1) {
		return Reply{}, ErrBusy
	}
	c.busy.Store(true)
	defer func() {
		c.busy.Store(false)
		c.inflight.Release(1)
	}()

	model, err := c.SelectModel(ctx)
	if err != nil {
		return Reply{}, err
	}

	trimmed, dropped := TrimToBudget(messages, c.budget)
	if dropped > 0 {
		log.Debug("context trimmed", "dropped", dropped, "budget", c.budget)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	reply := Reply{Model: model, Dropped: dropped}
	var b strings.Builder
	err = c.provider.ChatStream(ctx, model, trimmed, func(ev StreamEvent) {
		log.Stream(ev.Type, ev.Content)
		if ev.Type == EventContent {
			b.WriteString(ev.Content)
			reply.Fragments++
		}
	})
	reply.Duration = time.Since(start)
	if err != nil {
		if errors.Is(err, ErrRequestFailed) || errors.Is(err, ErrStreamError) {
			return Reply{}, err
		}
		return Reply{}, fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}

	reply.Text = b.String()
	if strings.TrimSpace(reply.Text) == "" {
		return Reply{}, ErrEmptyReply
	}
	log.Debug("exchange complete", "model", model, "fragments", reply.Fragments, "duration", reply.Duration.String())
	return reply, nil
}
