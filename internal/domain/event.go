package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type EventType string

const (
	EventNodeStarted   EventType = "node_started"
	EventNodeCompleted EventType = "node_completed"
	EventNodeFailed    EventType = "node_failed"
	EventJobStarted    EventType = "job_started"
	EventJobCompleted  EventType = "job_completed"
	EventJobFailed     EventType = "job_failed"
)

func (e EventType) IsJobLevel() bool {
	return e == EventJobStarted || e == EventJobCompleted || e == EventJobFailed
}

// TaskEvent is an immutable observation of one lifecycle transition. Rows are
// only ever inserted, and consumed in CreatedAt order.
//
// The composite unique index on (task_id, event_key, generation, attempt)
// suppresses duplicate emission when the same attempt is replayed after a
// crash, while still allowing re-emission across retries (attempt) and
// across manual re-arms (generation).
type TaskEvent struct {
	ID         uuid.UUID      `gorm:"type:uuid;primary_key" json:"id"`
	TaskID     uuid.UUID      `gorm:"type:uuid;index;not null;uniqueIndex:idx_task_event_attempt,priority:1" json:"task_id"`
	SessionID  uuid.UUID      `gorm:"type:uuid;index;not null" json:"session_id"`
	UserID     uuid.UUID      `gorm:"type:uuid;not null" json:"user_id"`
	EventType  EventType      `gorm:"type:varchar(30);not null" json:"event_type"`
	NodeKey    *string        `gorm:"type:varchar(100)" json:"node_key"`
	EventKey   string         `gorm:"type:varchar(140);not null;uniqueIndex:idx_task_event_attempt,priority:2" json:"event_key"`
	Generation int            `gorm:"default:0;uniqueIndex:idx_task_event_attempt,priority:3" json:"generation"`
	Attempt    int            `gorm:"default:0;uniqueIndex:idx_task_event_attempt,priority:4" json:"attempt"`
	Payload    datatypes.JSON `gorm:"type:jsonb" json:"payload"`
	CreatedAt  time.Time      `json:"created_at"`
}

// EventPayload is the JSON context carried by every event.
type EventPayload struct {
	JobID  uuid.UUID `json:"job_id"`
	TaskID uuid.UUID `json:"task_id"`
	Error  string    `json:"error,omitempty"`
}

func NewTaskEvent(task *Task, eventType EventType, nodeKey string, payload EventPayload) *TaskEvent {
	ev := &TaskEvent{
		ID:         uuid.New(),
		TaskID:     task.ID,
		SessionID:  task.SessionID,
		UserID:     task.UserID,
		EventType:  eventType,
		Generation: task.Generation,
		Attempt:    task.RetryCount,
		CreatedAt:  time.Now(),
	}
	key := "job"
	if nodeKey != "" {
		nk := nodeKey
		ev.NodeKey = &nk
		key = nodeKey
	}
	ev.EventKey = string(eventType) + ":" + key
	raw, _ := json.Marshal(payload)
	ev.Payload = datatypes.JSON(raw)
	return ev
}

// ParsePayload decodes the event payload; a malformed payload yields the
// zero value rather than an error since consumers only read from it.
func (e *TaskEvent) ParsePayload() EventPayload {
	var p EventPayload
	_ = json.Unmarshal(e.Payload, &p)
	return p
}
