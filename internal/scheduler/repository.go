package scheduler

import "context"

// Repository persists scheduled calls so the queue survives restarts. The
// scheduler's in-memory working set is authoritative while the process runs;
// the repository exists for durability and startup recovery.
type Repository interface {
	// Save upserts the full record by id.
	Save(ctx context.Context, sc ScheduledCall) error

	// ListPending returns rows in a non-terminal, timer-armed status
	// (scheduled or retry_scheduled), soonest first.
	ListPending(ctx context.Context) ([]ScheduledCall, error)
}
