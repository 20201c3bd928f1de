package store

import (
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// IntentKind enumerates the speculative mutations the store understands.
type IntentKind string

const (
	// IntentToggle flips a boolean field and moves its paired counter
	// by exactly one.
	IntentToggle IntentKind = "toggle"

	// IntentInsert appends a new entity under a temp id.
	IntentInsert IntentKind = "insert"

	// IntentReorder rewrites the order keys of the collection to match
	// a new id sequence.
	IntentReorder IntentKind = "reorder"

	// IntentUpdate replaces named fields on an existing entity.
	IntentUpdate IntentKind = "update"
)

// Intent is a user mutation to apply speculatively. Exactly the fields
// relevant to Kind are consulted.
type Intent struct {
	// ID identifies the intent for Confirm/Rollback. Generated by
	// NewIntentID when empty.
	ID string

	Kind IntentKind

	// TargetID names the entity a toggle or update applies to.
	TargetID string

	// ToggleField and CounterField name the boolean and its paired
	// counter for toggle intents.
	ToggleField  string
	CounterField string

	// Insert is the entity to append for insert intents. Its ID is
	// replaced with a temp id on apply.
	Insert Entity

	// CorrelationKey lets MergeOrSkip match a pushed entity against
	// this speculative insert before the server id is known (e.g. the
	// room name).
	CorrelationKey string

	// Order is the full id sequence after a reorder.
	Order []string

	// Fields holds the new values for update intents.
	Fields map[string]any

	// SubmittedAt is stamped by the store on apply when zero.
	SubmittedAt time.Time
}

// NewIntentID returns a fresh intent id.
func NewIntentID() string {
	return "in-" + ulid.Make().String()
}

// SerializationKey returns the key on which same-target intents must
// serialize. Toggles serialize per target field; updates serialize per
// target, since two field snapshots of the same entity are not
// independently invertible. Inserts and reorders get an empty key and
// run concurrently.
func (in Intent) SerializationKey() string {
	switch in.Kind {
	case IntentToggle:
		return in.TargetID + "/" + in.ToggleField
	case IntentUpdate:
		return in.TargetID + "/update"
	default:
		return ""
	}
}

// Validate checks the kind-specific shape of the intent.
func (in Intent) Validate() error {
	switch in.Kind {
	case IntentToggle:
		if in.TargetID == "" {
			return fmt.Errorf("%w: toggle needs a target id", ErrInvalidIntent)
		}
		if in.ToggleField == "" || in.CounterField == "" {
			return fmt.Errorf("%w: toggle needs toggle and counter fields", ErrInvalidIntent)
		}
	case IntentInsert:
		if in.Insert.Fields == nil {
			return fmt.Errorf("%w: insert needs an entity", ErrInvalidIntent)
		}
	case IntentReorder:
		if len(in.Order) == 0 {
			return fmt.Errorf("%w: reorder needs an id sequence", ErrInvalidIntent)
		}
	case IntentUpdate:
		if in.TargetID == "" || len(in.Fields) == 0 {
			return fmt.Errorf("%w: update needs a target id and fields", ErrInvalidIntent)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidIntent, in.Kind)
	}
	return nil
}
