// Package client is the consuming side of the stream gateway: it derives a
// progress view from a session's event timeline and keeps it fresh over SSE
// with a polling fallback.
package client

import (
	"taskline/internal/domain"

	"github.com/google/uuid"
)

type StepStatus string

const (
	StepStarted   StepStatus = "started"
	StepCompleted StepStatus = "completed"
	StepError     StepStatus = "error"
)

// Step is one node of the job with its promoted status.
type Step struct {
	Node   string     `json:"node"`
	Status StepStatus `json:"status"`
	Error  string     `json:"error,omitempty"`
}

// Progress is the state derived purely from the ordered event list for the
// session's most recent job. Deriving it twice from the same snapshot yields
// the same value, which makes at-least-once stream delivery safe to consume.
type Progress struct {
	JobID  uuid.UUID `json:"job_id"`
	Steps  []Step    `json:"steps"`
	Active bool      `json:"active"`
}

// DeriveProgress rebuilds the progress view from scratch on every snapshot.
// The job is the one named by the latest job_started event, falling back to
// whichever job id the most events share.
func DeriveProgress(events []domain.TaskEvent) Progress {
	jobID := latestJobID(events)
	progress := Progress{JobID: jobID}
	if jobID == uuid.Nil {
		return progress
	}

	steps := make(map[string]int)
	var lastJobEvent domain.EventType

	for _, ev := range events {
		if ev.ParsePayload().JobID != jobID {
			continue
		}
		if ev.EventType.IsJobLevel() {
			lastJobEvent = ev.EventType
			continue
		}
		if ev.NodeKey == nil {
			continue
		}
		node := *ev.NodeKey
		idx, seen := steps[node]
		if !seen {
			progress.Steps = append(progress.Steps, Step{Node: node, Status: StepStarted})
			idx = len(progress.Steps) - 1
			steps[node] = idx
		}
		switch ev.EventType {
		case domain.EventNodeStarted:
			// A retry re-opens a previously failed step.
			progress.Steps[idx].Status = StepStarted
			progress.Steps[idx].Error = ""
		case domain.EventNodeCompleted:
			progress.Steps[idx].Status = StepCompleted
			progress.Steps[idx].Error = ""
		case domain.EventNodeFailed:
			progress.Steps[idx].Status = StepError
			progress.Steps[idx].Error = ev.ParsePayload().Error
		}
	}

	// The job stays active until the most recent job-level signal is a
	// terminal one.
	progress.Active = lastJobEvent != domain.EventJobCompleted && lastJobEvent != domain.EventJobFailed
	return progress
}

func latestJobID(events []domain.TaskEvent) uuid.UUID {
	var latest uuid.UUID
	for _, ev := range events {
		if ev.EventType == domain.EventJobStarted {
			if id := ev.ParsePayload().JobID; id != uuid.Nil {
				latest = id
			}
		}
	}
	if latest != uuid.Nil {
		return latest
	}

	// No job_started seen (e.g. partial snapshot): majority vote.
	counts := make(map[uuid.UUID]int)
	for _, ev := range events {
		if id := ev.ParsePayload().JobID; id != uuid.Nil {
			counts[id]++
		}
	}
	best := 0
	for id, n := range counts {
		if n > best {
			best = n
			latest = id
		}
	}
	return latest
}
