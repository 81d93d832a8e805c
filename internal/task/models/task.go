// Package models defines the task domain model shared by the store and
// the supervisor.
package models

import "time"

// Status is the lifecycle state of a task.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusInProgress Status = "in_progress"
	StatusDone       Status = "done"
	StatusEscalated  Status = "escalated"
	StatusCancelled  Status = "cancelled"
)

// Task is one unit of work assigned to an agent session. The iteration
// counters feed the supervisor's continuation budget.
type Task struct {
	ID                  string    `json:"id" db:"id"`
	SessionID           string    `json:"session_id,omitempty" db:"session_id"`
	Title               string    `json:"title" db:"title"`
	Prompt              string    `json:"prompt" db:"prompt"`
	Status              Status    `json:"status" db:"status"`
	IterationsCompleted int       `json:"iterations_completed" db:"iterations_completed"`
	MaxIterations       int       `json:"max_iterations" db:"max_iterations"`
	CreatedAt           time.Time `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time `json:"updated_at" db:"updated_at"`
}

// Active reports whether the task still occupies its session.
func (t *Task) Active() bool {
	return t.Status == StatusQueued || t.Status == StatusInProgress
}
