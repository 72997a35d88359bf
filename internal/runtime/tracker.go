package runtime

import "context"

// EntityTracker moves the status of the entity a job works on.
// Events are opaque names declared by each stage with WithEntityEvents.
type EntityTracker interface {
	// Begin applies the start event and returns the status held before it.
	Begin(ctx context.Context, entityID int64, event string) (prior string, err error)
	// Succeed applies the success event.
	Succeed(ctx context.Context, entityID int64, event string) error
	// Rollback restores the status returned by Begin, but only while the entity
	// still holds the status startEvent moved it to. A status changed by someone
	// else during the job is kept.
	Rollback(ctx context.Context, entityID int64, prior, startEvent string) error
}
