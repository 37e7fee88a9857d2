package service

import (
	"context"
	"time"

	"taskline/internal/core/ports"
	"taskline/internal/domain"
	"taskline/internal/log"
	"taskline/internal/workflow"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// ErrForbidden marks a caller that does not own the target session or task.
var ErrForbidden = errors.New("caller does not own this resource")

// ErrNotRetryable marks a retry/resume on a task that is not terminal.
var ErrNotRetryable = errors.New("task is not in a failed state")

// ErrUnknownWorkflow marks a job start naming a workflow the registry does
// not hold.
var ErrUnknownWorkflow = errors.New("unknown workflow")

// TaskService owns the control operations of the engine: starting a job,
// retrying, cancelling and resuming tasks, and reading a session's tasks and
// events with ownership enforced.
type TaskService struct {
	store    ports.TaskStore
	events   ports.EventLog
	kicks    ports.KickBus
	cancels  ports.CancelSignal
	registry *workflow.Registry
}

func NewTaskService(
	store ports.TaskStore,
	events ports.EventLog,
	kicks ports.KickBus,
	cancels ports.CancelSignal,
	registry *workflow.Registry,
) *TaskService {
	return &TaskService{
		store:    store,
		events:   events,
		kicks:    kicks,
		cancels:  cancels,
		registry: registry,
	}
}

// StartJob enqueues the root task of a workflow run and fires a detached
// kick. The root task's own id doubles as the job id carried through every
// baton envelope and event payload of the chain.
func (s *TaskService) StartJob(ctx context.Context, userID uuid.UUID, workflowName string, sessionID uuid.UUID, input domain.State) (*domain.Task, error) {
	wf, ok := s.registry.Get(workflowName)
	if !ok {
		return nil, errors.Wrapf(ErrUnknownWorkflow, "%q", workflowName)
	}
	if sessionID == uuid.Nil {
		sessionID = uuid.New()
	}
	if input == nil {
		input = domain.State{}
	}

	task := domain.NewTask(userID, sessionID, domain.TaskType(wf.Name(), wf.Entry()), nil)
	envelope, err := domain.EncodeEnvelope(input, task.ID)
	if err != nil {
		return nil, err
	}
	task.Input = envelope

	if err := s.store.Enqueue(ctx, task); err != nil {
		return nil, errors.Wrap(err, "enqueue root task")
	}
	s.kickAsync(task.SessionID)
	return task, nil
}

// RetryTask re-arms a failed task as pending and kicks the sweeper.
func (s *TaskService) RetryTask(ctx context.Context, userID, taskID uuid.UUID) (*domain.Task, error) {
	task, err := s.ownedTask(ctx, userID, taskID)
	if err != nil {
		return nil, err
	}
	if task.Status != domain.StatusFailed {
		return nil, ErrNotRetryable
	}
	if err := s.cancels.ClearCancel(ctx, task.SessionID); err != nil {
		log.GetLogger().Warnf("clear cancel for session %s: %v", task.SessionID, err)
	}
	if err := s.store.Requeue(ctx, task.ID); err != nil {
		return nil, errors.Wrap(err, "requeue task")
	}
	s.kickAsync(task.SessionID)
	return s.store.FetchByID(ctx, task.ID)
}

// CancelTask records cancellation intent for the task's session. The signal
// is cooperative: a task already executing finishes its attempt, and the
// next processed task of the session declines instead of running.
func (s *TaskService) CancelTask(ctx context.Context, userID, taskID uuid.UUID) error {
	task, err := s.ownedTask(ctx, userID, taskID)
	if err != nil {
		return err
	}
	return s.cancels.RequestCancel(ctx, task.SessionID)
}

// ResumeTask clears a session's cancellation intent and, when the task was
// already terminated, re-arms it.
func (s *TaskService) ResumeTask(ctx context.Context, userID, taskID uuid.UUID) (*domain.Task, error) {
	task, err := s.ownedTask(ctx, userID, taskID)
	if err != nil {
		return nil, err
	}
	if err := s.cancels.ClearCancel(ctx, task.SessionID); err != nil {
		return nil, errors.Wrap(err, "clear cancel")
	}
	if task.Status == domain.StatusFailed {
		if err := s.store.Requeue(ctx, task.ID); err != nil {
			return nil, errors.Wrap(err, "requeue task")
		}
	}
	s.kickAsync(task.SessionID)
	return s.store.FetchByID(ctx, task.ID)
}

func (s *TaskService) SessionTasks(ctx context.Context, userID, sessionID uuid.UUID) ([]domain.Task, error) {
	if err := s.AuthorizeSession(ctx, userID, sessionID); err != nil {
		return nil, err
	}
	return s.store.FetchBySession(ctx, sessionID, userID)
}

func (s *TaskService) SessionEvents(ctx context.Context, userID, sessionID uuid.UUID) ([]domain.TaskEvent, error) {
	if err := s.AuthorizeSession(ctx, userID, sessionID); err != nil {
		return nil, err
	}
	return s.events.FetchBySession(ctx, sessionID, userID)
}

// AuthorizeSession rejects callers that do not own the session. A session
// with no tasks yet belongs to whoever asks first, so it passes; any other
// lookup fault surfaces to the caller instead of granting access.
func (s *TaskService) AuthorizeSession(ctx context.Context, userID, sessionID uuid.UUID) error {
	owner, err := s.store.SessionOwner(ctx, sessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return errors.Wrap(err, "resolve session owner")
	}
	if owner != userID {
		return ErrForbidden
	}
	return nil
}

func (s *TaskService) ownedTask(ctx context.Context, userID, taskID uuid.UUID) (*domain.Task, error) {
	task, err := s.store.FetchByID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.UserID != userID {
		return nil, ErrForbidden
	}
	return task, nil
}

// kickAsync submits a detached best-effort kick; a lost kick only costs
// latency until the next sweep tick.
func (s *TaskService) kickAsync(sessionID uuid.UUID) {
	if s.kicks == nil {
		return
	}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.GetLogger().Warnf("kick panic: %v", r)
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.kicks.Kick(ctx, sessionID); err != nil {
			log.GetLogger().Warnf("kick for session %s: %v", sessionID, err)
		}
	}()
}
