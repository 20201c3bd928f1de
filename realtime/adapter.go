// Package realtime subscribes to the feed event stream and turns
// events into pushes for the per-collection controllers. Delivery is
// at least once; dedupe happens downstream in the store, so the
// adapter only decodes, enriches, and routes.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/c360studio/semstreams/natsclient"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360studio/feedsync/feed"
	"github.com/c360studio/feedsync/store"
)

// Enrichment policies for pushes that reference a profile the adapter
// cannot resolve.
const (
	// EnrichPlaceholder merges the push with a placeholder username.
	// The view stays complete; the name corrects on a later push.
	EnrichPlaceholder = "placeholder"

	// EnrichDrop discards the push. The message appears only after a
	// full refetch.
	EnrichDrop = "drop"
)

// PlaceholderUsername is shown when a sender's profile cannot be
// resolved under the placeholder policy.
const PlaceholderUsername = "unknown"

const profileFetchTimeout = 2 * time.Second

// ProfileSource resolves the profile a message push references.
type ProfileSource interface {
	GetProfile(ctx context.Context, userID string) (*feed.Profile, error)
}

// Sink receives decoded pushes routed by collection.
type Sink interface {
	OnPush(collection string, p store.Push)
}

// Adapter consumes the feed stream and feeds the sink.
type Adapter struct {
	nc     *natsclient.Client
	source ProfileSource
	sink   Sink
	policy string
	logger *slog.Logger
}

// NewAdapter creates a realtime adapter. policy must be one of the
// enrichment policy constants; empty means placeholder.
func NewAdapter(nc *natsclient.Client, source ProfileSource, sink Sink, policy string, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	if policy == "" {
		policy = EnrichPlaceholder
	}
	return &Adapter{nc: nc, source: source, sink: sink, policy: policy, logger: logger}
}

// Start begins consuming the feed stream. It returns immediately; the
// consumer runs until ctx ends.
func (a *Adapter) Start(ctx context.Context) {
	go func() {
		err := a.nc.ConsumeStream(ctx, feed.StreamFeed, feed.SubjectFeedEvents, func(msg jetstream.Msg) {
			a.Handle(ctx, msg.Data())
			_ = msg.Ack()
		})
		if err != nil && ctx.Err() == nil {
			a.logger.Error("Feed stream consumer stopped", "error", err)
		}
	}()
}

// Handle decodes one raw event and routes the resulting push. Exposed
// for tests and for replaying buffered events.
func (a *Adapter) Handle(ctx context.Context, data []byte) {
	var ev feed.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		eventsDecodeFailed.Inc()
		a.logger.Warn("Dropping undecodable feed event", "error", err)
		return
	}

	p, err := ev.Push()
	if err != nil {
		eventsDecodeFailed.Inc()
		a.logger.Warn("Dropping feed event", "collection", ev.Collection, "error", err)
		return
	}

	if ev.Collection == feed.CollectionMessages && p.Kind == store.PushInsert {
		if !a.enrich(ctx, &ev, &p) {
			return
		}
	}

	a.sink.OnPush(ev.Collection, p)
}

// enrich joins the sender's profile onto a message push. Reports
// whether the push should proceed.
func (a *Adapter) enrich(ctx context.Context, ev *feed.Event, p *store.Push) bool {
	userID := ev.MessageUserID()
	if userID == "" {
		return true
	}

	fetchCtx, cancel := context.WithTimeout(ctx, profileFetchTimeout)
	defer cancel()

	profile, err := a.source.GetProfile(fetchCtx, userID)
	if err != nil {
		enrichmentFailures.WithLabelValues(a.policy).Inc()
		if a.policy == EnrichDrop {
			a.logger.Warn("Dropping message push, profile unresolved",
				"user_id", userID, "error", err)
			return false
		}
		a.logger.Debug("Profile unresolved, merging with placeholder",
			"user_id", userID, "error", err)
		p.Entity.Fields["username"] = PlaceholderUsername
		return true
	}

	p.Entity.Fields["username"] = profile.Username
	p.Entity.Fields["avatar_url"] = profile.AvatarURL
	return true
}
