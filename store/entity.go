package store

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// TempIDPrefix marks locally generated ids that have not been confirmed
// by the remote side yet.
const TempIDPrefix = "tmp-"

// Entity is one record in a collection view. Domain packages translate
// their concrete types (rooms, messages, posts, attachments) into this
// shape before handing them to the store.
type Entity struct {
	// ID is the server-assigned id, or a temp id (tmp-<ulid>) for a
	// speculative insert awaiting confirmation.
	ID string

	// OrderKey is the dense zero-based position in an ordered
	// collection. Unordered collections keep insertion order here too,
	// which makes recomputation uniform.
	OrderKey int

	// CreatedAt is the entity creation time as known locally.
	CreatedAt time.Time

	// Fields holds the domain attributes. Values are scalars or
	// JSON-like values; counter fields used by toggle intents must be
	// int.
	Fields map[string]any
}

// NewTempID returns a fresh temp id. ULIDs keep temp entries sortable
// by creation time, which is occasionally handy when debugging a view.
func NewTempID() string {
	return TempIDPrefix + ulid.Make().String()
}

// IsTempID reports whether id is a locally generated placeholder.
func IsTempID(id string) bool {
	return len(id) > len(TempIDPrefix) && id[:len(TempIDPrefix)] == TempIDPrefix
}

// Clone returns a deep copy of the entity.
func (e Entity) Clone() Entity {
	out := e
	if e.Fields != nil {
		out.Fields = make(map[string]any, len(e.Fields))
		for k, v := range e.Fields {
			out.Fields[k] = v
		}
	}
	return out
}
