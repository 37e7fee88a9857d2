package worker

import (
	"context"
	"testing"
	"time"

	"taskline/internal/domain"
	"taskline/internal/workflow"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSweeper(f *fixture, batchSize int) *Sweeper {
	return NewSweeper(f.store, f.processor, f.kicks, batchSize, 300*time.Second, time.Minute)
}

func TestSweepProcessesBatchAndReportsCounts(t *testing.T) {
	f := newFixture(1, twoNodeWorkflow(), failingWorkflow())
	f.enqueueRoot(t, "workflowX.nodeA", domain.State{})
	f.enqueueRoot(t, "flaky.explode", domain.State{})

	result, err := newSweeper(f, 10).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Processed)
	assert.Equal(t, 1, result.Completed)
	assert.Equal(t, 0, result.Retried)
	assert.Equal(t, 1, result.Failed)
}

func TestSweepCountsRetriesSeparately(t *testing.T) {
	f := newFixture(3, failingWorkflow())
	f.enqueueRoot(t, "flaky.explode", domain.State{})

	// First two attempts are re-queued, only the third is a terminal failure.
	sweeper := newSweeper(f, 10)
	for i := 0; i < 2; i++ {
		result, err := sweeper.Sweep(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, result.Retried)
		assert.Equal(t, 0, result.Failed)
	}

	result, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result.Retried)
	assert.Equal(t, 1, result.Failed)
}

func TestSweepsDriveChainToTermination(t *testing.T) {
	f := newFixture(3, workflow.Research())
	root := f.enqueueRoot(t, "research.retrieve", domain.State{"query": "notes from last week"})

	sweeper := newSweeper(f, 5)

	// The research loop rewrites at most 3 times, so the whole chain is
	// bounded; give it generous headroom and require termination.
	for i := 0; i < 30; i++ {
		result, err := sweeper.Sweep(context.Background())
		require.NoError(t, err)
		if result.Processed == 0 {
			break
		}
	}

	tasks, err := f.store.FetchBySession(context.Background(), root.SessionID, root.UserID)
	require.NoError(t, err)
	require.NotEmpty(t, tasks)
	for _, task := range tasks {
		assert.True(t, task.IsTerminal(), "task %s (%s) still %s", task.ID, task.TaskType, task.Status)
	}

	events := f.sessionEvents(t, root)
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, domain.EventJobCompleted, last.EventType)
}

func TestSweepOneFailingTaskDoesNotBlockBatch(t *testing.T) {
	f := newFixture(1, twoNodeWorkflow(), failingWorkflow())
	f.enqueueRoot(t, "flaky.explode", domain.State{})
	ok := f.enqueueRoot(t, "workflowX.nodeA", domain.State{})

	_, err := newSweeper(f, 10).Sweep(context.Background())
	require.NoError(t, err)

	got, err := f.store.FetchByID(context.Background(), ok.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, got.Status)
}
