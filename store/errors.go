package store

import "errors"

// Common store errors.
var (
	// ErrInvalidIntent is returned when an intent fails shape validation.
	ErrInvalidIntent = errors.New("invalid intent")

	// ErrUnknownEntity is returned when an intent targets an entity
	// that is not in the view.
	ErrUnknownEntity = errors.New("unknown entity")

	// ErrFieldType is returned when a toggle's boolean or counter
	// field holds an unexpected type.
	ErrFieldType = errors.New("unexpected field type")

	// ErrOrderMismatch is returned when a reorder sequence is not a
	// permutation of the current collection.
	ErrOrderMismatch = errors.New("reorder sequence does not match collection")

	// ErrIntentOutstanding is returned when a toggle or update is
	// applied to a target that already has an unresolved overlay on the
	// same serialization key. The controller queues in that case
	// instead of interleaving.
	ErrIntentOutstanding = errors.New("intent already outstanding for target")
)
