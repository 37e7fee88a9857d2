package worker

import (
	"context"
	"testing"
	"time"

	"taskline/internal/core/memory"
	"taskline/internal/domain"
	"taskline/internal/testutil"
	"taskline/internal/workflow"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// twoNodeWorkflow is the Scenario-A fixture: nodeA patches the baton, nodeB
// terminates the chain.
func twoNodeWorkflow() workflow.Workflow {
	return workflow.New("workflowX", "nodeA",
		map[string]workflow.NodeHandler{
			"nodeA": func(ctx context.Context, state domain.State) (domain.State, error) {
				return domain.State{"bar": 2}, nil
			},
			"nodeB": func(ctx context.Context, state domain.State) (domain.State, error) {
				return domain.State{}, nil
			},
		},
		func(node string, state domain.State) string {
			if node == "nodeA" {
				return "nodeB"
			}
			return ""
		})
}

func failingWorkflow() workflow.Workflow {
	return workflow.New("flaky", "explode",
		map[string]workflow.NodeHandler{
			"explode": func(ctx context.Context, state domain.State) (domain.State, error) {
				return nil, errors.New("collaborator down")
			},
		},
		func(node string, state domain.State) string { return "" })
}

type fixture struct {
	store     *memory.Store
	events    *memory.Log
	cancels   *testutil.FakeCancelSignal
	kicks     *testutil.FakeKickBus
	processor *Processor
}

func newFixture(maxRetries int, workflows ...workflow.Workflow) *fixture {
	f := &fixture{
		store:   memory.NewStore(),
		events:  memory.NewLog(),
		cancels: testutil.NewFakeCancelSignal(),
		kicks:   testutil.NewFakeKickBus(),
	}
	f.processor = NewProcessor(f.store, f.events, f.cancels, f.kicks, workflow.NewRegistry(workflows...), maxRetries)
	return f
}

func (f *fixture) enqueueRoot(t *testing.T, taskType string, state domain.State) *domain.Task {
	t.Helper()
	task := domain.NewTask(uuid.New(), uuid.New(), taskType, nil)
	envelope, err := domain.EncodeEnvelope(state, task.ID)
	require.NoError(t, err)
	task.Input = envelope
	require.NoError(t, f.store.Enqueue(context.Background(), task))
	return task
}

func (f *fixture) claimOne(t *testing.T) domain.Task {
	t.Helper()
	claimed, err := f.store.Claim(context.Background(), 1, time.Hour)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	return claimed[0]
}

func (f *fixture) sessionEvents(t *testing.T, task *domain.Task) []domain.TaskEvent {
	t.Helper()
	events, err := f.events.FetchBySession(context.Background(), task.SessionID, task.UserID)
	require.NoError(t, err)
	return events
}

func countEvents(events []domain.TaskEvent, eventType domain.EventType) int {
	n := 0
	for _, ev := range events {
		if ev.EventType == eventType {
			n++
		}
	}
	return n
}

func TestProcessEnqueuesNextTaskWithMergedBaton(t *testing.T) {
	f := newFixture(3, twoNodeWorkflow())
	root := f.enqueueRoot(t, "workflowX.nodeA", domain.State{"foo": 1})

	outcome, err := f.processor.Process(context.Background(), f.claimOne(t))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, outcome)

	tasks, err := f.store.FetchBySession(context.Background(), root.SessionID, root.UserID)
	require.NoError(t, err)
	require.Len(t, tasks, 2)

	child := tasks[1]
	require.NotNil(t, child.ParentTaskID)
	assert.Equal(t, root.ID, *child.ParentTaskID)
	assert.Equal(t, "workflowX.nodeB", child.TaskType)
	assert.Equal(t, domain.StatusPending, child.Status)

	env, err := domain.DecodeEnvelope(child.Input)
	require.NoError(t, err)
	assert.Equal(t, 1, env.State.Int("foo"))
	assert.Equal(t, 2, env.State.Int("bar"))
	assert.Equal(t, root.ID, env.JobID)
}

func TestChainRunsToJobCompleted(t *testing.T) {
	f := newFixture(3, twoNodeWorkflow())
	root := f.enqueueRoot(t, "workflowX.nodeA", domain.State{"foo": 1})

	for i := 0; i < 2; i++ {
		_, err := f.processor.Process(context.Background(), f.claimOne(t))
		require.NoError(t, err)
	}

	events := f.sessionEvents(t, root)
	assert.Equal(t, 1, countEvents(events, domain.EventJobStarted))
	assert.Equal(t, 2, countEvents(events, domain.EventNodeStarted))
	assert.Equal(t, 2, countEvents(events, domain.EventNodeCompleted))
	assert.Equal(t, 1, countEvents(events, domain.EventJobCompleted))

	// No third task exists: the chain is terminal.
	claimed, err := f.store.Claim(context.Background(), 10, time.Hour)
	require.NoError(t, err)
	assert.Empty(t, claimed)
}

func TestRetryPolicyExhaustsIntoTerminalFailure(t *testing.T) {
	f := newFixture(3, failingWorkflow())
	root := f.enqueueRoot(t, "flaky.explode", domain.State{})

	var statuses []domain.TaskStatus
	var outcomes []Outcome
	for attempt := 0; attempt < 3; attempt++ {
		task := f.claimOne(t)
		statuses = append(statuses, task.Status)
		outcome, err := f.processor.Process(context.Background(), task)
		require.NoError(t, err)
		outcomes = append(outcomes, outcome)

		got, err := f.store.FetchByID(context.Background(), root.ID)
		require.NoError(t, err)
		statuses = append(statuses, got.Status)
		assert.Equal(t, attempt+1, got.RetryCount)
	}

	assert.Equal(t, []Outcome{OutcomeRetried, OutcomeRetried, OutcomeFailed}, outcomes)

	assert.Equal(t, []domain.TaskStatus{
		domain.StatusInProgress, domain.StatusPending,
		domain.StatusInProgress, domain.StatusPending,
		domain.StatusInProgress, domain.StatusFailed,
	}, statuses)

	got, err := f.store.FetchByID(context.Background(), root.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastError)
	assert.Contains(t, *got.LastError, "collaborator down")

	events := f.sessionEvents(t, root)
	assert.Equal(t, 3, countEvents(events, domain.EventNodeFailed))
	assert.Equal(t, 0, countEvents(events, domain.EventNodeCompleted))
	assert.Equal(t, 1, countEvents(events, domain.EventJobFailed))

	// Nothing left to claim: the chain halted.
	claimed, err := f.store.Claim(context.Background(), 10, time.Hour)
	require.NoError(t, err)
	assert.Empty(t, claimed)
}

func TestManualRetryEmitsFreshEvents(t *testing.T) {
	f := newFixture(2, failingWorkflow())
	root := f.enqueueRoot(t, "flaky.explode", domain.State{})

	for i := 0; i < 2; i++ {
		_, err := f.processor.Process(context.Background(), f.claimOne(t))
		require.NoError(t, err)
	}
	before := len(f.sessionEvents(t, root))

	// Re-arm the exhausted task; the re-run must be observable end to end,
	// not swallowed as duplicates of the first run's attempts.
	require.NoError(t, f.store.Requeue(context.Background(), root.ID))
	for i := 0; i < 2; i++ {
		_, err := f.processor.Process(context.Background(), f.claimOne(t))
		require.NoError(t, err)
	}

	events := f.sessionEvents(t, root)
	assert.Greater(t, len(events), before)
	assert.Equal(t, 2, countEvents(events, domain.EventJobStarted))
	assert.Equal(t, 4, countEvents(events, domain.EventNodeStarted))
	assert.Equal(t, 4, countEvents(events, domain.EventNodeFailed))
	assert.Equal(t, 2, countEvents(events, domain.EventJobFailed))

	// The re-run announces itself before failing again, so a tracker sees
	// the job go active once more instead of staying terminally finished.
	assert.Equal(t, domain.EventJobFailed, events[len(events)-1].EventType)
}

func TestCancelledSessionDeclinesExecution(t *testing.T) {
	f := newFixture(3, twoNodeWorkflow())
	root := f.enqueueRoot(t, "workflowX.nodeA", domain.State{})
	require.NoError(t, f.cancels.RequestCancel(context.Background(), root.SessionID))

	outcome, err := f.processor.Process(context.Background(), f.claimOne(t))
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, outcome)

	got, err := f.store.FetchByID(context.Background(), root.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, got.Status)
	require.NotNil(t, got.LastError)
	assert.Equal(t, "cancelled", *got.LastError)

	events := f.sessionEvents(t, root)
	assert.Equal(t, 1, countEvents(events, domain.EventJobFailed))
}

func TestUnknownWorkflowFailsTerminally(t *testing.T) {
	f := newFixture(3, twoNodeWorkflow())
	root := f.enqueueRoot(t, "ghost.nodeA", domain.State{})

	outcome, err := f.processor.Process(context.Background(), f.claimOne(t))
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, outcome)

	got, err := f.store.FetchByID(context.Background(), root.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, got.Status)
}

func TestHandlerPanicBecomesNodeFailure(t *testing.T) {
	panicky := workflow.New("panic", "boom",
		map[string]workflow.NodeHandler{
			"boom": func(ctx context.Context, state domain.State) (domain.State, error) {
				panic("unexpected collaborator state")
			},
		},
		func(node string, state domain.State) string { return "" })

	f := newFixture(2, panicky)
	root := f.enqueueRoot(t, "panic.boom", domain.State{})

	outcome, err := f.processor.Process(context.Background(), f.claimOne(t))
	require.NoError(t, err)
	assert.Equal(t, OutcomeRetried, outcome)

	got, err := f.store.FetchByID(context.Background(), root.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, got.Status)
	require.NotNil(t, got.LastError)
	assert.Contains(t, *got.LastError, "handler panic")
}
