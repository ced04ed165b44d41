// Package checkpoint persists per-identifier processing state so crashed
// runs can recover. Transitions are two-phase: an identifier is marked
// in_progress durably before any fetch side effect, and done only after its
// records are persisted. A crash mid-fetch therefore leaves a durable
// in_progress marker rather than silence.
package checkpoint

import "context"

// Store is the durable checkpoint table.
type Store interface {
	// MarkInProgress durably records the identifier as in_progress and
	// increments its attempt count. Idempotent.
	MarkInProgress(ctx context.Context, id string) error
	// MarkDone records the identifier as done. Only called after
	// extraction and persistence succeeded.
	MarkDone(ctx context.Context, id string) error
	// MarkFailed records the identifier as failed.
	MarkFailed(ctx context.Context, id string) error
	// IsDone short-circuits re-processing and gates link expansion.
	IsDone(id string) bool
	// Status returns the stored status for id; ok is false when the
	// identifier has never been recorded.
	Status(ctx context.Context, id string) (status string, ok bool, err error)
	// Incomplete returns every identifier left in_progress by a prior
	// run, as candidates for re-queueing.
	Incomplete(ctx context.Context) ([]string, error)
	// Close releases the underlying connection.
	Close() error
}
