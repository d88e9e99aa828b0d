// Package store provides persistence for workflow state and checkpoints.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a run ID or checkpoint ID does not exist.
var ErrNotFound = errors.New("not found")

// Store persists workflow state snapshots and named checkpoints.
//
// The engine saves a snapshot after every node; runs are keyed by the
// conversation id so a run can be resumed or streamed by conversation.
//
// Implementations: Mem (tests, single process), SQLite (zero-setup local
// persistence), Redis (cross-process visibility with TTL expiry).
//
// Type parameter S is the state type to persist; it must be
// JSON-serializable.
type Store[S any] interface {
	// SaveStep persists the state after a node execution step.
	// Steps are identified by runID + step number; saving the same step
	// twice overwrites (retries converge).
	SaveStep(ctx context.Context, runID string, step int, nodeID string, state S) error

	// LoadLatest retrieves the most recent state for a run, with its step
	// number. Returns ErrNotFound for unknown runs.
	LoadLatest(ctx context.Context, runID string) (state S, step int, err error)

	// SaveCheckpoint creates a named snapshot of workflow state.
	SaveCheckpoint(ctx context.Context, cpID string, state S, step int) error

	// LoadCheckpoint retrieves a previously saved checkpoint.
	// Returns ErrNotFound for unknown checkpoint ids.
	LoadCheckpoint(ctx context.Context, cpID string) (state S, step int, err error)
}
