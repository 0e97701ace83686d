package domain

import "time"

type TaskType string

const (
	TaskTypeExtractText TaskType = "extract_text"
	TaskTypeCompare     TaskType = "compare"
	TaskTypeExport      TaskType = "export"
)

type TaskStatus string

const (
	TaskStatusQueued    TaskStatus = "queued"
	TaskStatusClaimed   TaskStatus = "claimed"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

// QueueTask is the canonical async unit processed by dispatcher workers.
// Transitions are monotonic: queued -> claimed -> {completed | queued (retry)
// | failed}. A failed task never re-queues automatically.
type QueueTask struct {
	ID            string
	DocumentID    string
	CounterpartID string
	ComparisonID  string
	TaskType      TaskType
	Priority      int
	Status        TaskStatus
	Attempts      int
	MaxAttempts   int
	LastError     string
	ScheduledAt   time.Time
	ClaimedAt     *time.Time
	CompletedAt   *time.Time
	CreatedAt     time.Time
}

// TaskRequest describes a task to enqueue. Handlers return these to chain
// follow-up stages; the dispatcher enqueues them only on handler success.
type TaskRequest struct {
	DocumentID    string
	CounterpartID string
	ComparisonID  string
	TaskType      TaskType
	Priority      int
}
