package feed

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/c360studio/feedsync/store"
)

// Realtime events travel on per-collection subjects under
// "feed.events.<collection>.<kind>", all captured by the FEED stream.
// Events carry the raw record plus a timestamp; denormalized joins
// (message profiles) are deliberately absent and fetched by the
// consumer before merge.

// StreamFeed is the JetStream stream capturing all feed events.
const StreamFeed = "FEED"

// SubjectFeedEvents matches every feed event subject.
const SubjectFeedEvents = "feed.events.>"

// EventSubject returns the subject for one collection and push kind.
func EventSubject(collection string, kind store.PushKind) string {
	return fmt.Sprintf("feed.events.%s.%s", collection, kind)
}

// Event is the wire form of a realtime push.
type Event struct {
	Kind       store.PushKind  `json:"kind"`
	Collection string          `json:"collection"`
	Entity     json.RawMessage `json:"entity"`
	At         time.Time       `json:"at"`
}

// NewEvent wraps a record into an event, marshaling the record.
func NewEvent(collection string, kind store.PushKind, record any, at time.Time) (Event, error) {
	raw, err := json.Marshal(record)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s event: %w", collection, err)
	}
	return Event{Kind: kind, Collection: collection, Entity: raw, At: at}, nil
}

// Push decodes the event into the store's push form. The correlation
// key depends on the collection: rooms correlate on name, everything
// else only on server id.
func (ev Event) Push() (store.Push, error) {
	p := store.Push{Kind: ev.Kind, At: ev.At}

	switch ev.Collection {
	case CollectionRooms:
		var r Room
		if err := json.Unmarshal(ev.Entity, &r); err != nil {
			return store.Push{}, fmt.Errorf("decode room event: %w", err)
		}
		p.Entity = r.Entity()
		p.CorrelationKey = r.Name
	case CollectionMessages:
		var m Message
		if err := json.Unmarshal(ev.Entity, &m); err != nil {
			return store.Push{}, fmt.Errorf("decode message event: %w", err)
		}
		p.Entity = m.Entity()
	case CollectionPosts:
		var post Post
		if err := json.Unmarshal(ev.Entity, &post); err != nil {
			return store.Push{}, fmt.Errorf("decode post event: %w", err)
		}
		p.Entity = post.Entity()
	case CollectionAttachments:
		var a Attachment
		if err := json.Unmarshal(ev.Entity, &a); err != nil {
			return store.Push{}, fmt.Errorf("decode attachment event: %w", err)
		}
		p.Entity = a.Entity()
	default:
		return store.Push{}, fmt.Errorf("unknown collection %q", ev.Collection)
	}

	return p, nil
}

// MessageUserID extracts the sender id from a message event without a
// full decode, for profile enrichment.
func (ev Event) MessageUserID() string {
	if ev.Collection != CollectionMessages {
		return ""
	}
	var partial struct {
		UserID string `json:"user_id"`
	}
	if err := json.Unmarshal(ev.Entity, &partial); err != nil {
		return ""
	}
	return partial.UserID
}
