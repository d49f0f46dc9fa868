package queue

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// DefaultQueueName is used when no queue is specified.
const DefaultQueueName = "default"

// TaskStatus is the processing status of a task.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// Task is a JSON payload that becomes claimable at DueAt.
type Task struct {
	ID          uuid.UUID       `json:"id"`
	Queue       string          `json:"queue"`
	Name        string          `json:"name"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Status      TaskStatus      `json:"status"`
	Attempts    int8            `json:"attempts"`
	MaxAttempts int8            `json:"max_attempts"`
	DueAt       time.Time       `json:"due_at"`
	LockedUntil *time.Time      `json:"locked_until,omitempty"`
	LockedBy    *uuid.UUID      `json:"locked_by,omitempty"`
	ProcessedAt *time.Time      `json:"processed_at,omitempty"`
	Error       *string         `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Exhausted reports whether the task has no attempts left.
func (t *Task) Exhausted() bool {
	return t.Attempts >= t.MaxAttempts
}

// DeadLetter is a task that ran out of attempts or had no handler.
// It is kept for manual inspection and requeueing.
type DeadLetter struct {
	ID        uuid.UUID       `json:"id"`
	TaskID    uuid.UUID       `json:"task_id"`
	Queue     string          `json:"queue"`
	Name      string          `json:"name"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Error     string          `json:"error"`
	Attempts  int8            `json:"attempts"`
	FailedAt  time.Time       `json:"failed_at"`
	CreatedAt time.Time       `json:"created_at"`
}
