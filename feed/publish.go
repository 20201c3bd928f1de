package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/c360studio/semstreams/natsclient"

	"github.com/c360studio/feedsync/store"
)

// EventPublisher publishes feed events to the FEED stream. The gateway
// calls it after every successful write so subscribed sessions receive
// the authoritative change.
type EventPublisher struct {
	nc     *natsclient.Client
	logger *slog.Logger
}

// NewEventPublisher creates a publisher.
func NewEventPublisher(nc *natsclient.Client, logger *slog.Logger) *EventPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventPublisher{nc: nc, logger: logger}
}

// Publish marshals and publishes one event.
func (p *EventPublisher) Publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	subject := EventSubject(ev.Collection, ev.Kind)
	if err := p.nc.PublishToStream(ctx, subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}

	p.logger.Debug("Published feed event",
		"subject", subject,
		"collection", ev.Collection,
		"kind", ev.Kind)
	return nil
}

// PublishRecord wraps a record into an event and publishes it.
func (p *EventPublisher) PublishRecord(ctx context.Context, collection string, kind store.PushKind, record any) error {
	ev, err := NewEvent(collection, kind, record, time.Now().UTC())
	if err != nil {
		return err
	}
	return p.Publish(ctx, ev)
}
