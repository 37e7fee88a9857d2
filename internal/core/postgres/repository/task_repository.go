package repository

import (
	"context"
	"time"

	"taskline/internal/domain"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type taskRepository struct {
	db *gorm.DB
}

// NewTaskRepository creates the Postgres-backed TaskStore.
func NewTaskRepository(db *gorm.DB) *taskRepository {
	return &taskRepository{db: db}
}

func (r *taskRepository) Enqueue(ctx context.Context, task *domain.Task) error {
	return r.db.WithContext(ctx).Create(task).Error
}

func (r *taskRepository) EnqueueMany(ctx context.Context, tasks []domain.Task) error {
	if len(tasks) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&tasks).Error
}

// Claim is one indivisible round trip: the sub-select locks claimable rows
// with SKIP LOCKED so concurrent sweeps never return the same task, and the
// UPDATE flips them to in_progress with a refreshed lease in the same
// statement. The stale clause reclaims tasks orphaned by a crashed worker.
func (r *taskRepository) Claim(ctx context.Context, maxTasks int, staleAfter time.Duration) ([]domain.Task, error) {
	query := `
		UPDATE tasks
		SET status = 'in_progress', updated_at = NOW()
		WHERE id IN (
			SELECT id FROM tasks
			WHERE status = 'pending'
			   OR (status = 'in_progress' AND updated_at < NOW() - make_interval(secs => ?))
			ORDER BY created_at
			LIMIT ?
			FOR UPDATE SKIP LOCKED
		)
		RETURNING *
	`

	var tasks []domain.Task
	err := r.db.WithContext(ctx).
		Raw(query, staleAfter.Seconds(), maxTasks).
		Scan(&tasks).Error
	if err != nil {
		return nil, errors.Wrap(err, "claim tasks")
	}
	return tasks, nil
}

func (r *taskRepository) MarkSuccess(ctx context.Context, id uuid.UUID, output datatypes.JSON) error {
	return r.db.WithContext(ctx).
		Model(&domain.Task{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     domain.StatusCompleted,
			"output":     output,
			"last_error": nil,
		}).Error
}

func (r *taskRepository) MarkFailure(ctx context.Context, id uuid.UUID, status domain.TaskStatus, retryCount int, lastError string) error {
	return r.db.WithContext(ctx).
		Model(&domain.Task{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":      status,
			"retry_count": retryCount,
			"last_error":  lastError,
		}).Error
}

// Requeue re-arms a task with a fresh retry budget. The generation bump gives
// the new run its own event identity, so its lifecycle events are not
// swallowed as duplicates of the previous run's attempts.
func (r *taskRepository) Requeue(ctx context.Context, id uuid.UUID) error {
	result := r.db.WithContext(ctx).
		Model(&domain.Task{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":      domain.StatusPending,
			"retry_count": 0,
			"generation":  gorm.Expr("generation + 1"),
			"last_error":  nil,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *taskRepository) FetchByID(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	var task domain.Task
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&task).Error
	if err != nil {
		return nil, err
	}
	return &task, nil
}

func (r *taskRepository) FetchBySession(ctx context.Context, sessionID, userID uuid.UUID) ([]domain.Task, error) {
	var tasks []domain.Task
	err := r.db.WithContext(ctx).
		Where("session_id = ? AND user_id = ?", sessionID, userID).
		Order("created_at ASC").
		Find(&tasks).Error
	return tasks, err
}

func (r *taskRepository) SessionOwner(ctx context.Context, sessionID uuid.UUID) (uuid.UUID, error) {
	var task domain.Task
	err := r.db.WithContext(ctx).
		Select("user_id").
		Where("session_id = ?", sessionID).
		Order("created_at ASC").
		First(&task).Error
	if err != nil {
		return uuid.Nil, err
	}
	return task.UserID, nil
}
