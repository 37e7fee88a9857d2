package worker

import (
	"context"
	"time"

	"taskline/internal/core/ports"
	"taskline/internal/log"
	"taskline/internal/metrics"

	"github.com/google/uuid"
)

// SweepResult is what a trigger invocation reports back. Retried counts
// tasks re-queued for another attempt; Failed counts only terminal failures.
type SweepResult struct {
	Processed int `json:"processed"`
	Completed int `json:"completed"`
	Retried   int `json:"retried"`
	Failed    int `json:"failed"`
}

// Sweeper claims a bounded batch of runnable tasks and processes them. It is
// safe to run any number of sweeps concurrently across machines: the atomic
// claim is the only coordination point.
type Sweeper struct {
	store      ports.TaskStore
	processor  *Processor
	kicks      ports.KickBus
	batchSize  int
	staleAfter time.Duration
	interval   time.Duration
}

func NewSweeper(
	store ports.TaskStore,
	processor *Processor,
	kicks ports.KickBus,
	batchSize int,
	staleAfter time.Duration,
	interval time.Duration,
) *Sweeper {
	return &Sweeper{
		store:      store,
		processor:  processor,
		kicks:      kicks,
		batchSize:  batchSize,
		staleAfter: staleAfter,
		interval:   interval,
	}
}

// Sweep performs one claim-and-process pass. Per-task errors are contained
// so one failing task never blocks the rest of the batch.
func (s *Sweeper) Sweep(ctx context.Context) (SweepResult, error) {
	start := time.Now()
	defer func() {
		metrics.SweepDuration.Observe(time.Since(start).Seconds())
	}()

	var result SweepResult
	tasks, err := s.store.Claim(ctx, s.batchSize, s.staleAfter)
	if err != nil {
		return result, err
	}
	metrics.TasksClaimed.Add(float64(len(tasks)))

	for _, task := range tasks {
		result.Processed++
		outcome, err := s.processor.Process(ctx, task)
		if err != nil {
			log.GetLogger().Errorf("process task %s: %v", task.ID, err)
		}
		switch outcome {
		case OutcomeCompleted:
			result.Completed++
		case OutcomeRetried:
			result.Retried++
		default:
			result.Failed++
		}
		metrics.TasksProcessed.WithLabelValues(task.Workflow(), string(outcome)).Inc()
	}
	return result, nil
}

// Run drives sweeps until the context is cancelled: a fixed-interval ticker
// as the progress guarantee, plus immediate passes on kick-bus signals so
// enqueue-to-execution latency does not depend on the sweep cadence. Call
// this in main as a goroutine.
func (s *Sweeper) Run(ctx context.Context) {
	log.GetLogger().Infof("sweeper started (batch %d, every %s)", s.batchSize, s.interval)

	var kicks <-chan uuid.UUID
	if s.kicks != nil {
		ch, err := s.kicks.Subscribe(ctx)
		if err != nil {
			log.GetLogger().Warnf("kick subscription unavailable, sweeping on interval only: %v", err)
		} else {
			kicks = ch
		}
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.GetLogger().Info("sweeper shutting down")
			return
		case <-ticker.C:
			s.sweepLogged(ctx)
		case _, ok := <-kicks:
			if !ok {
				kicks = nil
				continue
			}
			s.sweepLogged(ctx)
		}
	}
}

func (s *Sweeper) sweepLogged(ctx context.Context) {
	result, err := s.Sweep(ctx)
	if err != nil {
		log.GetLogger().Errorf("sweep: %v", err)
		return
	}
	if result.Processed > 0 {
		log.GetLogger().Infof("sweep processed=%d completed=%d retried=%d failed=%d",
			result.Processed, result.Completed, result.Retried, result.Failed)
	}
}
