// Package reconcile drives the optimistic mutation lifecycle for one
// collection: speculate locally, send the remote write, then confirm
// or roll back from the outcome. It also arbitrates between local
// speculation and realtime pushes so that at-least-once delivery and
// in-flight intents cannot corrupt the view.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/c360studio/feedsync/gateway"
	"github.com/c360studio/feedsync/identity"
	"github.com/c360studio/feedsync/store"
)

// DefaultIntentTimeout bounds how long a speculative overlay may wait
// for the remote outcome before it is rolled back.
const DefaultIntentTimeout = 15 * time.Second

// ErrCanceled is the handle error after an explicit Cancel.
var ErrCanceled = errors.New("intent canceled")

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("controller closed")

// State is the lifecycle position of a submitted intent.
type State string

const (
	// StateQueued means the intent is waiting behind another intent
	// with the same serialization key.
	StateQueued State = "queued"

	// StateSpeculating means the overlay is applied and the remote
	// write is in flight.
	StateSpeculating State = "speculating"

	// StateConfirmed and StateRolledBack are terminal.
	StateConfirmed  State = "confirmed"
	StateRolledBack State = "rolled_back"
)

// Gateway performs the remote write for an intent.
type Gateway interface {
	Send(ctx context.Context, mutation string, payload any) (*store.ServerResult, error)
}

// Submission pairs a speculative intent with the remote mutation that
// realizes it.
type Submission struct {
	Intent   store.Intent
	Mutation string
	Payload  any

	// Token authenticates the submitter. Checked before any local
	// state is touched when the controller has a verifier.
	Token string
}

// Handle tracks one submitted intent through to its terminal state.
type Handle struct {
	IntentID string

	mu    sync.Mutex
	state State
	err   error
	done  chan struct{}
}

func newHandle(id string, state State) *Handle {
	return &Handle{IntentID: id, state: state, done: make(chan struct{})}
}

// State returns the current lifecycle state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Err returns the failure after a rollback, nil otherwise.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Wait blocks until the intent reaches a terminal state or the context
// ends.
func (h *Handle) Wait(ctx context.Context) (State, error) {
	select {
	case <-h.done:
		return h.State(), h.Err()
	case <-ctx.Done():
		return h.State(), ctx.Err()
	}
}

// transition moves to state once. Terminal states close done; later
// calls are ignored so a timeout racing a cancel settles on whichever
// landed first.
func (h *Handle) transition(state State, err error) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == StateConfirmed || h.state == StateRolledBack {
		return false
	}
	h.state = state
	h.err = err
	if state == StateConfirmed || state == StateRolledBack {
		close(h.done)
	}
	return true
}

type queued struct {
	ctx    context.Context
	sub    Submission
	handle *Handle
}

// Controller owns one collection's optimistic store and serializes all
// access to it.
type Controller struct {
	Collection string

	store    *store.Store
	gateway  Gateway
	verifier *identity.Verifier
	logger   *slog.Logger
	timeout  time.Duration

	mu       sync.Mutex
	handles  map[string]*Handle
	queues   map[string][]queued
	deferred []store.Push
	closed   bool
}

// Option configures a controller.
type Option func(*Controller)

// WithVerifier makes submissions require a valid token.
func WithVerifier(v *identity.Verifier) Option {
	return func(c *Controller) { c.verifier = v }
}

// WithTimeout overrides the per-intent remote deadline.
func WithTimeout(d time.Duration) Option {
	return func(c *Controller) { c.timeout = d }
}

// New creates a controller over the given store and gateway.
func New(collection string, s *store.Store, gw Gateway, logger *slog.Logger, opts ...Option) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Controller{
		Collection: collection,
		store:      s,
		gateway:    gw,
		logger:     logger.With("collection", collection),
		timeout:    DefaultIntentTimeout,
		handles:    make(map[string]*Handle),
		queues:     make(map[string][]queued),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit authenticates, speculates, and launches the remote write.
// Toggles that collide on a serialization key queue behind the
// in-flight one instead of failing. The returned handle resolves when
// the intent reaches a terminal state.
func (c *Controller) Submit(ctx context.Context, sub Submission) (*Handle, error) {
	if c.verifier != nil {
		if _, err := c.verifier.CurrentUser(sub.Token); err != nil {
			return nil, fmt.Errorf("%w: %w", gateway.ErrUnauthorized, err)
		}
	}

	if sub.Intent.ID == "" {
		sub.Intent.ID = store.NewIntentID()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}

	if key := sub.Intent.SerializationKey(); key != "" && c.keyBusy(key) {
		h := newHandle(sub.Intent.ID, StateQueued)
		c.handles[sub.Intent.ID] = h
		c.queues[key] = append(c.queues[key], queued{ctx: ctx, sub: sub, handle: h})
		return h, nil
	}

	return c.startLocked(ctx, sub, nil)
}

// keyBusy reports whether an intent holding the key is in flight or
// already queued. Caller holds c.mu.
func (c *Controller) keyBusy(key string) bool {
	if len(c.queues[key]) > 0 {
		return true
	}
	for id := range c.handles {
		h := c.handles[id]
		if h.State() == StateSpeculating && c.handleKey(id) == key {
			return true
		}
	}
	return false
}

// handleKey recovers the serialization key of an in-flight intent from
// its overlay. Caller holds c.mu.
func (c *Controller) handleKey(intentID string) string {
	in, ok := c.store.OutstandingIntent(intentID)
	if !ok {
		return ""
	}
	return in.SerializationKey()
}

// startLocked applies the speculation and dispatches the remote write.
// Caller holds c.mu. handle is non-nil when resuming a queued intent.
func (c *Controller) startLocked(ctx context.Context, sub Submission, handle *Handle) (*Handle, error) {
	if _, err := c.store.ApplySpeculative(sub.Intent); err != nil {
		if handle != nil {
			delete(c.handles, sub.Intent.ID)
			handle.transition(StateRolledBack, err)
		}
		return nil, err
	}

	if handle == nil {
		handle = newHandle(sub.Intent.ID, StateSpeculating)
		c.handles[sub.Intent.ID] = handle
	} else {
		handle.transition(StateSpeculating, nil)
	}

	intentsStarted.WithLabelValues(c.Collection, string(sub.Intent.Kind)).Inc()
	c.logger.Debug("Intent speculating",
		"intent_id", sub.Intent.ID,
		"kind", sub.Intent.Kind,
		"mutation", sub.Mutation)

	go c.dispatch(ctx, sub, handle)
	return handle, nil
}

// dispatch runs the remote write off the lock and settles the intent.
func (c *Controller) dispatch(ctx context.Context, sub Submission, handle *Handle) {
	sendCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	result, err := c.gateway.Send(sendCtx, sub.Mutation, sub.Payload)

	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		reason := "error"
		if errors.Is(err, context.DeadlineExceeded) {
			reason = "timeout"
		}
		c.store.Rollback(sub.Intent.ID)
		if handle.transition(StateRolledBack, err) {
			intentsRolledBack.WithLabelValues(c.Collection, reason).Inc()
			c.logger.Warn("Intent rolled back",
				"intent_id", sub.Intent.ID,
				"reason", reason,
				"error", err)
		}
	} else {
		if result == nil {
			result = &store.ServerResult{}
		}
		c.store.Confirm(sub.Intent.ID, *result)
		if handle.transition(StateConfirmed, nil) {
			intentsConfirmed.WithLabelValues(c.Collection).Inc()
			c.logger.Debug("Intent confirmed",
				"intent_id", sub.Intent.ID,
				"server_id", result.ID)
		}
	}

	c.settleLocked(sub.Intent)
}

// Cancel rolls back an in-flight intent. The remote write may still
// land server-side; the resulting push reconciles the view. Unknown or
// already-terminal intents are a no-op.
func (c *Controller) Cancel(intentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	handle, ok := c.handles[intentID]
	if !ok {
		return
	}

	// A queued intent never speculated and must never start: drop its
	// queue entry so the key's next settle cannot resurrect it.
	if handle.State() == StateQueued {
		c.removeQueuedLocked(intentID)
		delete(c.handles, intentID)
		if handle.transition(StateRolledBack, ErrCanceled) {
			intentsRolledBack.WithLabelValues(c.Collection, "canceled").Inc()
		}
		return
	}

	in, _ := c.store.OutstandingIntent(intentID)
	in.ID = intentID
	c.store.Rollback(intentID)
	if handle.transition(StateRolledBack, ErrCanceled) {
		intentsRolledBack.WithLabelValues(c.Collection, "canceled").Inc()
	}
	c.settleLocked(in)
}

// removeQueuedLocked drops the queued entry for intentID, if any.
// Caller holds c.mu.
func (c *Controller) removeQueuedLocked(intentID string) {
	for key, q := range c.queues {
		for i, item := range q {
			if item.sub.Intent.ID != intentID {
				continue
			}
			q = append(q[:i], q[i+1:]...)
			if len(q) == 0 {
				delete(c.queues, key)
			} else {
				c.queues[key] = q
			}
			return
		}
	}
}

// settleLocked runs after a terminal transition: the handle is
// retired, the next queued toggle on the freed key starts, and pushes
// deferred behind the overlay are re-evaluated. Caller holds c.mu.
func (c *Controller) settleLocked(in store.Intent) {
	delete(c.handles, in.ID)

	if key := in.SerializationKey(); key != "" {
		if q := c.queues[key]; len(q) > 0 {
			next := q[0]
			if len(q) == 1 {
				delete(c.queues, key)
			} else {
				c.queues[key] = q[1:]
			}
			if _, err := c.startLocked(next.ctx, next.sub, next.handle); err != nil {
				c.logger.Warn("Queued intent failed to start",
					"intent_id", next.sub.Intent.ID,
					"error", err)
			}
		}
	}

	c.flushDeferredLocked()
}

// OnPush feeds one realtime push into the view. A push touching an
// entity with an unresolved overlay is deferred rather than merged:
// the local speculation wins until its intent settles, then the push
// is re-evaluated against the authoritative outcome.
func (c *Controller) OnPush(p store.Push) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, pending := c.store.PendingOverlay(p.Entity.ID); pending {
		c.deferred = append(c.deferred, p)
		pushesDeferred.WithLabelValues(c.Collection).Inc()
		return
	}
	c.mergeLocked(p)
}

func (c *Controller) flushDeferredLocked() {
	if len(c.deferred) == 0 {
		return
	}
	remaining := c.deferred[:0]
	for _, p := range c.deferred {
		if _, pending := c.store.PendingOverlay(p.Entity.ID); pending {
			remaining = append(remaining, p)
			continue
		}
		c.mergeLocked(p)
	}
	c.deferred = remaining
}

func (c *Controller) mergeLocked(p store.Push) {
	if c.store.MergeOrSkip(p) {
		pushesMerged.WithLabelValues(c.Collection, string(p.Kind)).Inc()
	} else {
		pushesSkipped.WithLabelValues(c.Collection, string(p.Kind)).Inc()
	}
}

// Snapshot returns the current view in display order.
func (c *Controller) Snapshot() []store.Entity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.Snapshot()
}

// Get returns one entity from the view.
func (c *Controller) Get(id string) (store.Entity, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.Get(id)
}

// Pending reports how many intents are speculating or queued.
func (c *Controller) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.handles)
}

// Close rejects further submissions. In-flight intents settle
// normally; queued intents are rolled back.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true

	for key, q := range c.queues {
		for _, item := range q {
			delete(c.handles, item.sub.Intent.ID)
			item.handle.transition(StateRolledBack, ErrClosed)
		}
		delete(c.queues, key)
	}
}
