// Package store implements the optimistic state store: a pure,
// framework-free view of a single collection that supports speculative
// apply, confirm, rollback, and push merge with de-duplication.
//
// The store never talks to the network. Callers (normally a
// reconcile.Controller) apply a predicted mutation synchronously, issue
// the remote write themselves, and then resolve the overlay with either
// Confirm or Rollback. Realtime pushes enter through MergeOrSkip, which
// is the de-duplication boundary for at-least-once delivery.
//
// All methods mutate under the caller's single-writer discipline; the
// store itself holds no locks. Snapshots returned to callers are deep
// copies and safe to retain.
package store
