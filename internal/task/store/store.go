// Package store persists tasks and their iteration budgets.
package store

import (
	"context"

	"github.com/shepherd/shepherd/internal/task/models"
)

// Store is the persistence surface the supervisor depends on. All
// implementations must be safe for concurrent use.
type Store interface {
	// CreateTask inserts a new task. Missing IDs and timestamps are
	// filled in.
	CreateTask(ctx context.Context, task *models.Task) error

	// GetTask returns a task by ID or a not-found error.
	GetTask(ctx context.Context, id string) (*models.Task, error)

	// GetActiveTaskForSession returns the queued or in-progress task
	// bound to a session, or a not-found error.
	GetActiveTaskForSession(ctx context.Context, sessionID string) (*models.Task, error)

	// CompleteTask marks a task done.
	CompleteTask(ctx context.Context, id string) error

	// UpdateStatus sets a task's status.
	UpdateStatus(ctx context.Context, id string, status models.Status) error

	// IncrementIterations bumps the completed-iteration counter and
	// returns the new value.
	IncrementIterations(ctx context.Context, id string) (int, error)

	// AssignNextQueued binds the oldest unbound queued task to the
	// session and marks it in progress. Returns nil when the queue is
	// empty.
	AssignNextQueued(ctx context.Context, sessionID string) (*models.Task, error)

	// ListTasks returns all tasks, newest first.
	ListTasks(ctx context.Context) ([]*models.Task, error)

	Close() error
}
