// Package feedsync provides the feed-sync processor component: it
// hosts per-session optimistic views over the feed collections, sends
// their mutations through the gateway, and reconciles realtime events
// back into every open view.
package feedsync

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/c360studio/semstreams/component"
	"github.com/c360studio/semstreams/natsclient"

	"github.com/c360studio/feedsync/feed"
	"github.com/c360studio/feedsync/gateway"
	"github.com/c360studio/feedsync/identity"
	"github.com/c360studio/feedsync/realtime"
	"github.com/c360studio/feedsync/reconcile"
	"github.com/c360studio/feedsync/store"
)

// feedSyncSchema defines the configuration schema
var feedSyncSchema = component.GenerateConfigSchema(reflect.TypeOf(Config{}))

// Component implements the feed-sync processor
type Component struct {
	name       string
	config     Config
	natsClient *natsclient.Client
	logger     *slog.Logger
	platform   component.PlatformMeta

	// Wiring built in Start from the NATS client. Tests inject these
	// directly.
	snapshots Snapshots
	gw        reconcile.Gateway
	verifier  *identity.Verifier
	adapter   *realtime.Adapter

	sessions map[string]*session
	mu       sync.RWMutex

	// Lifecycle management
	running   bool
	startTime time.Time

	// Metrics
	pushesRouted int64
	lastPush     time.Time

	// Cancel functions for background goroutines
	cancelFuncs []context.CancelFunc
}

// NewComponent creates a new feed-sync processor component
func NewComponent(rawConfig json.RawMessage, deps component.Dependencies) (component.Discoverable, error) {
	var config Config
	if err := json.Unmarshal(rawConfig, &config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Use default config if ports not set
	if config.Ports == nil {
		config = DefaultConfig()
		// Re-unmarshal to get user-provided values
		if err := json.Unmarshal(rawConfig, &config); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Component{
		name:       "feed-sync",
		config:     config,
		natsClient: deps.NATSClient,
		logger:     deps.GetLogger(),
		platform:   deps.Platform,
		sessions:   make(map[string]*session),
	}, nil
}

// Initialize prepares the component
func (c *Component) Initialize() error {
	if c.config.AuthSecret != "" {
		c.verifier = identity.NewVerifier([]byte(c.config.AuthSecret))
	}
	return nil
}

// Start wires the backend stores, gateway, and realtime adapter, then
// begins consuming the feed stream.
func (c *Component) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return fmt.Errorf("component already running")
	}

	if c.snapshots == nil || c.gw == nil {
		if c.natsClient == nil {
			return fmt.Errorf("NATS client required")
		}

		backend, err := feed.NewBackend(c.natsClient)
		if err != nil {
			return fmt.Errorf("open feed backend: %w", err)
		}
		publisher := feed.NewEventPublisher(c.natsClient, c.logger)
		c.snapshots = &backendSnapshots{backend: backend}
		c.gw = gateway.NewRemote(backend, publisher, c.logger)
		c.adapter = realtime.NewAdapter(c.natsClient, backend, c, c.config.EnrichmentPolicy, c.logger)
	}

	if c.adapter != nil {
		adapterCtx, adapterCancel := context.WithCancel(ctx)
		c.cancelFuncs = append(c.cancelFuncs, adapterCancel)
		c.adapter.Start(adapterCtx)
	}

	c.running = true
	c.startTime = time.Now()

	c.logger.Info("Feed-sync processor started",
		"stream", c.config.StreamName,
		"intent_timeout", c.config.GetIntentTimeout(),
		"enrichment_policy", c.config.EnrichmentPolicy)

	return nil
}

// OnPush routes one realtime push to every session holding the
// matching view. Implements the realtime sink.
func (c *Component) OnPush(collection string, p store.Push) {
	view := routeKey(collection, p)
	if view == "" {
		c.logger.Warn("Unroutable push", "collection", collection, "id", p.Entity.ID)
		return
	}

	c.mu.Lock()
	c.pushesRouted++
	c.lastPush = time.Now()
	targets := make([]*reconcile.Controller, 0, len(c.sessions))
	for _, s := range c.sessions {
		if ctrl, ok := s.controllers[view]; ok {
			targets = append(targets, ctrl)
		}
	}
	c.mu.Unlock()

	for _, ctrl := range targets {
		ctrl.OnPush(p)
	}
}

// OpenSession creates a session with the rooms and posts views loaded
// from the authoritative stores. The token is checked once here and
// again on every submission.
func (c *Component) OpenSession(ctx context.Context, sessionID, token string) error {
	if c.verifier != nil {
		if _, err := c.verifier.CurrentUser(token); err != nil {
			return fmt.Errorf("%w: %w", gateway.ErrUnauthorized, err)
		}
	}

	rooms, err := c.snapshots.Rooms(ctx)
	if err != nil {
		return fmt.Errorf("load rooms snapshot: %w", err)
	}
	posts, err := c.snapshots.Posts(ctx)
	if err != nil {
		return fmt.Errorf("load posts snapshot: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.sessions[sessionID]; exists {
		return fmt.Errorf("session %s already open", sessionID)
	}
	s := &session{id: sessionID, controllers: make(map[string]*reconcile.Controller)}
	s.controllers[ViewRooms] = c.newController(ViewRooms, rooms)
	s.controllers[ViewPosts] = c.newController(ViewPosts, posts)
	c.sessions[sessionID] = s

	c.logger.Debug("Session opened", "session_id", sessionID,
		"rooms", len(rooms), "posts", len(posts))
	return nil
}

// OpenView loads a scoped view (one room's messages or one post's
// attachments) into the session. Opening an already-open view is a
// no-op.
func (c *Component) OpenView(ctx context.Context, sessionID, view string) error {
	if err := validateView(view); err != nil {
		return err
	}

	c.mu.RLock()
	s, ok := c.sessions[sessionID]
	if ok {
		if _, open := s.controllers[view]; open {
			c.mu.RUnlock()
			return nil
		}
	}
	c.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown session %s", sessionID)
	}

	var (
		entities []store.Entity
		err      error
	)
	switch collectionOfView(view) {
	case feed.CollectionMessages:
		entities, err = c.snapshots.RoomMessages(ctx, view[len("messages:"):])
	case feed.CollectionAttachments:
		entities, err = c.snapshots.PostAttachments(ctx, view[len("attachments:"):])
	default:
		return nil // rooms and posts load at session open
	}
	if err != nil {
		return fmt.Errorf("load %s snapshot: %w", view, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok = c.sessions[sessionID]
	if !ok {
		return fmt.Errorf("unknown session %s", sessionID)
	}
	if _, open := s.controllers[view]; !open {
		s.controllers[view] = c.newController(view, entities)
	}
	return nil
}

// Submit routes an intent to the session's view controller.
func (c *Component) Submit(ctx context.Context, sessionID, view string, sub reconcile.Submission) (*reconcile.Handle, error) {
	ctrl, err := c.controller(sessionID, view)
	if err != nil {
		return nil, err
	}
	return ctrl.Submit(ctx, sub)
}

// Cancel rolls back an in-flight intent in the session's view.
func (c *Component) Cancel(sessionID, view, intentID string) error {
	ctrl, err := c.controller(sessionID, view)
	if err != nil {
		return err
	}
	ctrl.Cancel(intentID)
	return nil
}

// ViewSnapshot returns the current optimistic view in display order.
func (c *Component) ViewSnapshot(sessionID, view string) ([]store.Entity, error) {
	ctrl, err := c.controller(sessionID, view)
	if err != nil {
		return nil, err
	}
	return ctrl.Snapshot(), nil
}

// CloseSession closes every view of the session.
func (c *Component) CloseSession(sessionID string) {
	c.mu.Lock()
	s, ok := c.sessions[sessionID]
	if ok {
		delete(c.sessions, sessionID)
	}
	c.mu.Unlock()
	if ok {
		s.close()
		c.logger.Debug("Session closed", "session_id", sessionID)
	}
}

// SessionCount returns the number of open sessions.
func (c *Component) SessionCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.sessions)
}

func (c *Component) controller(sessionID, view string) (*reconcile.Controller, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("unknown session %s", sessionID)
	}
	ctrl, ok := s.controllers[view]
	if !ok {
		return nil, fmt.Errorf("view %s not open in session %s", view, sessionID)
	}
	return ctrl, nil
}

// newController builds one view's store and controller. Caller holds
// c.mu.
func (c *Component) newController(view string, entities []store.Entity) *reconcile.Controller {
	st := store.NewFromSnapshot(entities)
	st.CorrelationWindow = c.config.GetCorrelationWindow()

	opts := []reconcile.Option{reconcile.WithTimeout(c.config.GetIntentTimeout())}
	if c.verifier != nil {
		opts = append(opts, reconcile.WithVerifier(c.verifier))
	}
	return reconcile.New(collectionOfView(view), st, c.gw, c.logger, opts...)
}

// Stop gracefully stops the component
func (c *Component) Stop(_ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return nil
	}

	for _, cancel := range c.cancelFuncs {
		cancel()
	}
	c.cancelFuncs = nil

	for id, s := range c.sessions {
		s.close()
		delete(c.sessions, id)
	}

	c.running = false
	c.logger.Info("Feed-sync processor stopped", "pushes_routed", c.pushesRouted)

	return nil
}

// Discoverable interface implementation

// Meta returns component metadata
func (c *Component) Meta() component.Metadata {
	return component.Metadata{
		Name:        "feed-sync",
		Type:        "processor",
		Description: "Optimistic view reconciliation over feed collections",
		Version:     "0.1.0",
	}
}

// InputPorts returns configured input port definitions
func (c *Component) InputPorts() []component.Port {
	if c.config.Ports == nil || len(c.config.Ports.Inputs) == 0 {
		return []component.Port{}
	}

	ports := make([]component.Port, len(c.config.Ports.Inputs))
	for i, portDef := range c.config.Ports.Inputs {
		ports[i] = component.Port{
			Name:        portDef.Name,
			Direction:   component.DirectionInput,
			Required:    portDef.Required,
			Description: portDef.Description,
			Config: component.NATSPort{
				Subject: portDef.Subject,
			},
		}
	}
	return ports
}

// OutputPorts returns configured output port definitions
func (c *Component) OutputPorts() []component.Port {
	if c.config.Ports == nil || len(c.config.Ports.Outputs) == 0 {
		return []component.Port{}
	}

	ports := make([]component.Port, len(c.config.Ports.Outputs))
	for i, portDef := range c.config.Ports.Outputs {
		ports[i] = component.Port{
			Name:        portDef.Name,
			Direction:   component.DirectionOutput,
			Required:    portDef.Required,
			Description: portDef.Description,
			Config: component.NATSPort{
				Subject: portDef.Subject,
			},
		}
	}
	return ports
}

// ConfigSchema returns the configuration schema
func (c *Component) ConfigSchema() component.ConfigSchema {
	return feedSyncSchema
}

// Health returns the current health status
func (c *Component) Health() component.HealthStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return component.HealthStatus{
		Healthy:    c.running,
		LastCheck:  time.Now(),
		ErrorCount: 0,
		Uptime:     time.Since(c.startTime),
		Status:     c.getStatus(),
	}
}

func (c *Component) getStatus() string {
	if c.running {
		return "running"
	}
	return "stopped"
}

// DataFlow returns current data flow metrics
func (c *Component) DataFlow() component.FlowMetrics {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return component.FlowMetrics{
		MessagesPerSecond: 0,
		BytesPerSecond:    0,
		ErrorRate:         0,
		LastActivity:      c.lastPush,
	}
}
