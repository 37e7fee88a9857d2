// Package memory provides in-memory TaskStore/EventLog implementations with
// the same claim and dedup semantics as the Postgres repositories. They back
// the engine's tests and any wiring that has no database at hand.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"taskline/internal/domain"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ErrNotFound matches the sentinel the gorm repositories surface so callers
// translate missing rows the same way against either backend.
var ErrNotFound = gorm.ErrRecordNotFound

type Store struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]*domain.Task
	order []uuid.UUID
}

func NewStore() *Store {
	return &Store{tasks: make(map[uuid.UUID]*domain.Task)}
}

func (s *Store) Enqueue(ctx context.Context, task *domain.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now()
	}
	task.UpdatedAt = time.Now()
	cp := *task
	s.tasks[task.ID] = &cp
	s.order = append(s.order, task.ID)
	return nil
}

func (s *Store) EnqueueMany(ctx context.Context, tasks []domain.Task) error {
	for i := range tasks {
		if err := s.Enqueue(ctx, &tasks[i]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Claim(ctx context.Context, maxTasks int, staleAfter time.Duration) ([]domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var claimed []domain.Task
	for _, id := range s.order {
		if len(claimed) >= maxTasks {
			break
		}
		t := s.tasks[id]
		claimable := t.Status == domain.StatusPending ||
			(t.Status == domain.StatusInProgress && now.Sub(t.UpdatedAt) > staleAfter)
		if !claimable {
			continue
		}
		t.Status = domain.StatusInProgress
		t.UpdatedAt = now
		claimed = append(claimed, *t)
	}
	return claimed, nil
}

func (s *Store) MarkSuccess(ctx context.Context, id uuid.UUID, output datatypes.JSON) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return ErrNotFound
	}
	t.Status = domain.StatusCompleted
	t.Output = output
	t.LastError = nil
	t.UpdatedAt = time.Now()
	return nil
}

func (s *Store) MarkFailure(ctx context.Context, id uuid.UUID, status domain.TaskStatus, retryCount int, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return ErrNotFound
	}
	t.Status = status
	t.RetryCount = retryCount
	msg := lastError
	t.LastError = &msg
	t.UpdatedAt = time.Now()
	return nil
}

func (s *Store) Requeue(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return ErrNotFound
	}
	t.Status = domain.StatusPending
	t.RetryCount = 0
	t.Generation++
	t.LastError = nil
	t.UpdatedAt = time.Now()
	return nil
}

func (s *Store) FetchByID(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *Store) FetchBySession(ctx context.Context, sessionID, userID uuid.UUID) ([]domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var tasks []domain.Task
	for _, id := range s.order {
		t := s.tasks[id]
		if t.SessionID == sessionID && t.UserID == userID {
			tasks = append(tasks, *t)
		}
	}
	return tasks, nil
}

func (s *Store) SessionOwner(ctx context.Context, sessionID uuid.UUID) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.order {
		if t := s.tasks[id]; t.SessionID == sessionID {
			return t.UserID, nil
		}
	}
	return uuid.Nil, ErrNotFound
}

// ForceStatus backdates a task for lease-expiry tests. Test helper only.
func (s *Store) ForceStatus(id uuid.UUID, status domain.TaskStatus, updatedAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tasks[id]; ok {
		t.Status = status
		t.UpdatedAt = updatedAt
	}
}

type eventKey struct {
	taskID     uuid.UUID
	key        string
	generation int
	attempt    int
}

type Log struct {
	mu     sync.Mutex
	events []domain.TaskEvent
	seen   map[eventKey]bool
}

func NewLog() *Log {
	return &Log{seen: make(map[eventKey]bool)}
}

func (l *Log) Record(ctx context.Context, event *domain.TaskEvent) (*domain.TaskEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := eventKey{taskID: event.TaskID, key: event.EventKey, generation: event.Generation, attempt: event.Attempt}
	if l.seen[k] {
		return nil, nil
	}
	l.seen[k] = true
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	l.events = append(l.events, *event)
	return event, nil
}

func (l *Log) FetchBySession(ctx context.Context, sessionID, userID uuid.UUID) ([]domain.TaskEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var events []domain.TaskEvent
	for _, e := range l.events {
		if e.SessionID == sessionID && e.UserID == userID {
			events = append(events, e)
		}
	}
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].CreatedAt.Before(events[j].CreatedAt)
	})
	return events, nil
}
