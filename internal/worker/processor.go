package worker

import (
	"context"
	"time"

	"taskline/internal/core/ports"
	"taskline/internal/domain"
	"taskline/internal/log"
	"taskline/internal/workflow"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Outcome classifies one processed task for sweep accounting: the chain
// advanced, the same task was re-queued for another attempt, or the chain
// terminated in failure.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeRetried   Outcome = "retried"
	OutcomeFailed    Outcome = "failed"
)

// Processor executes exactly one claimed task: resolve the node handler by
// the task type's workflow prefix, run it wrapped in event emission, persist
// the outcome, and enqueue the successor task if the routing function names
// one. Chains proceed strictly by re-enqueueing — a worker never waits in
// place for a child.
type Processor struct {
	store      ports.TaskStore
	events     ports.EventLog
	cancels    ports.CancelSignal
	kicks      ports.KickBus
	registry   *workflow.Registry
	maxRetries int
}

func NewProcessor(
	store ports.TaskStore,
	events ports.EventLog,
	cancels ports.CancelSignal,
	kicks ports.KickBus,
	registry *workflow.Registry,
	maxRetries int,
) *Processor {
	return &Processor{
		store:      store,
		events:     events,
		cancels:    cancels,
		kicks:      kicks,
		registry:   registry,
		maxRetries: maxRetries,
	}
}

// Process runs a task the caller has claimed and classifies the result.
// Node-level errors are persisted, never returned, so one failing task cannot
// block the rest of a sweep batch.
func (p *Processor) Process(ctx context.Context, task domain.Task) (Outcome, error) {
	env, decErr := domain.DecodeEnvelope(task.Input)
	jobID := env.JobID
	if jobID == uuid.Nil {
		jobID = task.ID
	}
	payload := domain.EventPayload{JobID: jobID, TaskID: task.ID}

	wf, node, err := p.registry.Resolve(task.TaskType)
	if err != nil {
		// Nothing can ever execute this task; terminate the chain.
		p.failTerminal(ctx, &task, task.Node(), payload, err.Error())
		return OutcomeFailed, nil
	}
	if decErr != nil {
		p.failTerminal(ctx, &task, node, payload, decErr.Error())
		return OutcomeFailed, nil
	}

	if task.IsRoot() && task.RetryCount == 0 {
		p.emit(ctx, &task, domain.EventJobStarted, "", payload)
	}

	if cancelled, cErr := p.cancels.IsCancelled(ctx, task.SessionID); cErr != nil {
		log.GetLogger().Warnf("cancel check for session %s: %v", task.SessionID, cErr)
	} else if cancelled {
		p.failTerminal(ctx, &task, node, payload, "cancelled")
		return OutcomeFailed, nil
	}

	p.emit(ctx, &task, domain.EventNodeStarted, node, payload)

	patch, err := p.runHandler(ctx, wf, node, env.State)
	if err != nil {
		return p.handleFailure(ctx, &task, node, payload, err), nil
	}

	merged := env.State.Merge(patch)
	output, err := domain.EncodeEnvelope(merged, jobID)
	if err != nil {
		return p.handleFailure(ctx, &task, node, payload, err), nil
	}

	if err := p.store.MarkSuccess(ctx, task.ID, output); err != nil {
		// Persistence failed while the task is still leased; the stale
		// reclaim will redo the whole attempt.
		return OutcomeRetried, errors.Wrap(err, "mark success")
	}
	p.emit(ctx, &task, domain.EventNodeCompleted, node, payload)

	next, ok := wf.Next(node, merged)
	if !ok {
		p.emit(ctx, &task, domain.EventJobCompleted, "", payload)
		return OutcomeCompleted, nil
	}

	child := domain.NewTask(task.UserID, task.SessionID, domain.TaskType(wf.Name(), next), output)
	child.ParentTaskID = &task.ID
	if err := p.store.Enqueue(ctx, child); err != nil {
		return OutcomeCompleted, errors.Wrap(err, "enqueue next task")
	}
	p.kickAsync(task.SessionID)
	return OutcomeCompleted, nil
}

// runHandler isolates handler panics so a broken collaborator surfaces as an
// ordinary node failure.
func (p *Processor) runHandler(ctx context.Context, wf workflow.Workflow, node string, state domain.State) (patch domain.State, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("handler panic: %v", r)
		}
	}()
	handler, _ := wf.Handler(node)
	return handler(ctx, state)
}

// handleFailure applies the retry policy: re-queue the same row while the
// retry budget lasts, otherwise terminate the chain. maxRetries bounds the
// total number of attempts.
func (p *Processor) handleFailure(ctx context.Context, task *domain.Task, node string, payload domain.EventPayload, cause error) Outcome {
	msg := cause.Error()
	payload.Error = msg
	p.emit(ctx, task, domain.EventNodeFailed, node, payload)

	nextRetry := task.RetryCount + 1
	if nextRetry < p.maxRetries {
		log.GetLogger().Infof("task %s (%s) failed, retry %d/%d: %s",
			task.ID, task.TaskType, nextRetry, p.maxRetries, msg)
		if err := p.store.MarkFailure(ctx, task.ID, domain.StatusPending, nextRetry, msg); err != nil {
			log.GetLogger().Errorf("requeue task %s: %v", task.ID, err)
		}
		return OutcomeRetried
	}

	log.GetLogger().Infof("task %s (%s) exhausted retries: %s", task.ID, task.TaskType, msg)
	if err := p.store.MarkFailure(ctx, task.ID, domain.StatusFailed, nextRetry, msg); err != nil {
		log.GetLogger().Errorf("fail task %s: %v", task.ID, err)
	}
	p.emit(ctx, task, domain.EventJobFailed, "", payload)
	return OutcomeFailed
}

// failTerminal halts the chain without consuming retry budget (cancellation,
// unroutable task type, corrupt baton).
func (p *Processor) failTerminal(ctx context.Context, task *domain.Task, node string, payload domain.EventPayload, msg string) {
	payload.Error = msg
	p.emit(ctx, task, domain.EventNodeFailed, node, payload)
	if err := p.store.MarkFailure(ctx, task.ID, domain.StatusFailed, task.RetryCount, msg); err != nil {
		log.GetLogger().Errorf("fail task %s: %v", task.ID, err)
	}
	p.emit(ctx, task, domain.EventJobFailed, "", payload)
}

func (p *Processor) emit(ctx context.Context, task *domain.Task, eventType domain.EventType, node string, payload domain.EventPayload) {
	if _, err := p.events.Record(ctx, domain.NewTaskEvent(task, eventType, node, payload)); err != nil {
		log.GetLogger().Warnf("record %s event for task %s: %v", eventType, task.ID, err)
	}
}

// kickAsync fires a detached best-effort kick so the freshly enqueued child
// is picked up without waiting for the next sweep tick. Errors are logged
// and swallowed; the periodic sweep guarantees progress either way.
func (p *Processor) kickAsync(sessionID uuid.UUID) {
	if p.kicks == nil {
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
		if err := p.kicks.Kick(ctx, sessionID); err != nil {
			log.GetLogger().Warnf("kick for session %s: %v", sessionID, err)
		}
	}()
}
