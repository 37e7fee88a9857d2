package ports

import (
	"context"
	"time"

	"taskline/internal/domain"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// TaskStore represents task persistence. All mutations of a Task row go
// through Claim or the Mark*/Requeue operations; unguarded read-modify-write
// of a row is not allowed anywhere in the engine.
type TaskStore interface {
	// Enqueue inserts a new pending task (retry_count 0).
	Enqueue(ctx context.Context, task *domain.Task) error

	EnqueueMany(ctx context.Context, tasks []domain.Task) error

	// Claim atomically selects up to maxTasks rows that are pending, or
	// in_progress with a lease older than staleAfter, marks them in_progress
	// with a refreshed updated_at, and returns them. This is the sole
	// mechanism preventing two workers from executing the same task.
	Claim(ctx context.Context, maxTasks int, staleAfter time.Duration) ([]domain.Task, error)

	// MarkSuccess completes a task the caller has claimed and clears last_error.
	MarkSuccess(ctx context.Context, id uuid.UUID, output datatypes.JSON) error

	// MarkFailure either re-queues the task (status pending, bumped retry
	// count) or terminates it (status failed).
	MarkFailure(ctx context.Context, id uuid.UUID, status domain.TaskStatus, retryCount int, lastError string) error

	// Requeue re-arms a terminal task as pending with a fresh retry budget
	// and a bumped generation, so the new run's events are recorded instead
	// of being deduplicated against the previous run's.
	Requeue(ctx context.Context, id uuid.UUID) error

	FetchByID(ctx context.Context, id uuid.UUID) (*domain.Task, error)

	FetchBySession(ctx context.Context, sessionID, userID uuid.UUID) ([]domain.Task, error)

	// SessionOwner returns the user owning the session's tasks, or an error
	// when the session has none.
	SessionOwner(ctx context.Context, sessionID uuid.UUID) (uuid.UUID, error)
}

// EventLog is the append-only record of lifecycle transitions.
type EventLog interface {
	// Record inserts the event. A duplicate (same task, event key and
	// attempt) is suppressed: Record returns (nil, nil) instead of an error.
	Record(ctx context.Context, event *domain.TaskEvent) (*domain.TaskEvent, error)

	// FetchBySession returns the session's events ordered by created_at
	// ascending: the canonical progress timeline.
	FetchBySession(ctx context.Context, sessionID, userID uuid.UUID) ([]domain.TaskEvent, error)
}

// KickBus carries best-effort "work may be available" signals fired right
// after an enqueue so chain latency does not depend on the sweep cadence.
// Correctness never depends on delivery; the periodic sweep is the guarantee.
type KickBus interface {
	Kick(ctx context.Context, sessionID uuid.UUID) error

	// Subscribe returns a channel of kicked session ids (used by the sweeper).
	Subscribe(ctx context.Context) (<-chan uuid.UUID, error)
}

// CancelSignal records cooperative cancellation intent per session. The
// processor checks it before executing and declines to proceed when set;
// a task already mid-execution is never preempted.
type CancelSignal interface {
	RequestCancel(ctx context.Context, sessionID uuid.UUID) error
	ClearCancel(ctx context.Context, sessionID uuid.UUID) error
	IsCancelled(ctx context.Context, sessionID uuid.UUID) (bool, error)
}
