// Package gateway performs named remote writes against the feed
// backend and returns either the authoritative server record or a
// typed failure. The gateway has no knowledge of local view state;
// any error means no remote state change from the caller's
// perspective, so the controller always rolls back on error and never
// assumes partial success.
package gateway

import "errors"

// Error kinds surfaced to the controller.
var (
	// ErrUnauthorized means no identity was attached to the mutation.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrValidation means the intent payload is malformed. Rejected
	// before any write is attempted.
	ErrValidation = errors.New("validation failed")

	// ErrRemoteWrite covers network and server-side rejections of an
	// otherwise well-formed mutation.
	ErrRemoteWrite = errors.New("remote write failed")
)
