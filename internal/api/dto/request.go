package dto

import (
	"github.com/google/uuid"

	"taskline/internal/domain"
)

type StartJobRequest struct {
	Workflow  string       `json:"workflow" binding:"required"`
	SessionID *uuid.UUID   `json:"session_id"`
	Input     domain.State `json:"input"`
}

type StartJobResponse struct {
	JobID     uuid.UUID `json:"job_id"`
	TaskID    uuid.UUID `json:"task_id"`
	SessionID uuid.UUID `json:"session_id"`
}
