package repository

import (
	"context"

	"taskline/internal/domain"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

type eventRepository struct {
	db *gorm.DB
}

// NewEventRepository creates the Postgres-backed EventLog. The db handle must
// be opened with TranslateError so unique violations surface as
// gorm.ErrDuplicatedKey.
func NewEventRepository(db *gorm.DB) *eventRepository {
	return &eventRepository{db: db}
}

func (r *eventRepository) Record(ctx context.Context, event *domain.TaskEvent) (*domain.TaskEvent, error) {
	err := r.db.WithContext(ctx).Create(event).Error
	if err != nil {
		// A retried worker replaying the same attempt inserts the same
		// (task_id, event_key, attempt) tuple; swallow it.
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "record task event")
	}
	return event, nil
}

func (r *eventRepository) FetchBySession(ctx context.Context, sessionID, userID uuid.UUID) ([]domain.TaskEvent, error) {
	var events []domain.TaskEvent
	err := r.db.WithContext(ctx).
		Where("session_id = ? AND user_id = ?", sessionID, userID).
		Order("created_at ASC").
		Find(&events).Error
	return events, err
}
