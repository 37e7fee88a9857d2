package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type TaskStatus string

const (
	StatusPending    TaskStatus = "pending"
	StatusInProgress TaskStatus = "in_progress"
	StatusCompleted  TaskStatus = "completed"
	StatusFailed     TaskStatus = "failed"
)

// Task is one persisted unit of work: exactly one node invocation of one
// workflow run. Tasks form a singly-linked chain via ParentTaskID; all tasks
// of one run share a SessionID.
type Task struct {
	ID           uuid.UUID  `gorm:"type:uuid;primary_key" json:"id"`
	ParentTaskID *uuid.UUID `gorm:"type:uuid;index" json:"parent_task_id"`
	UserID       uuid.UUID  `gorm:"type:uuid;index;not null" json:"user_id"`
	SessionID    uuid.UUID  `gorm:"type:uuid;index;not null" json:"session_id"`
	TaskType     string     `gorm:"type:varchar(100);not null" json:"task_type"`
	Status       TaskStatus `gorm:"type:varchar(20);index;default:'pending'" json:"status"`
	RetryCount   int        `gorm:"default:0" json:"retry_count"`
	// Generation counts manual re-arms (Requeue). It is part of every
	// event's identity so a retried run's events are never mistaken for
	// replays of an earlier run's attempts.
	Generation int     `gorm:"default:0" json:"generation"`
	LastError  *string `gorm:"type:text" json:"last_error"`

	Input  datatypes.JSON `gorm:"type:jsonb" json:"input"`
	Output datatypes.JSON `gorm:"type:jsonb" json:"output"`

	// UpdatedAt doubles as the lease timestamp while Status is in_progress.
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func NewTask(userID, sessionID uuid.UUID, taskType string, input datatypes.JSON) *Task {
	return &Task{
		ID:        uuid.New(),
		UserID:    userID,
		SessionID: sessionID,
		TaskType:  taskType,
		Status:    StatusPending,
		Input:     input,
		CreatedAt: time.Now(),
	}
}

// Workflow returns the workflow half of TaskType ("<workflow>.<node>").
func (t *Task) Workflow() string {
	wf, _, _ := strings.Cut(t.TaskType, ".")
	return wf
}

func (t *Task) Node() string {
	_, node, _ := strings.Cut(t.TaskType, ".")
	return node
}

// IsRoot reports whether this task starts a job chain.
func (t *Task) IsRoot() bool {
	return t.ParentTaskID == nil
}

func (t *Task) IsTerminal() bool {
	return t.Status == StatusCompleted || t.Status == StatusFailed
}

func TaskType(workflowName, node string) string {
	return workflowName + "." + node
}
