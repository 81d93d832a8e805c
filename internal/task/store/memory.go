package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/shepherd/shepherd/internal/common/errors"
	"github.com/shepherd/shepherd/internal/task/models"
)

// MemoryStore is an in-memory Store used in tests and for ephemeral runs.
type MemoryStore struct {
	mu    sync.RWMutex
	tasks map[string]*models.Task
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tasks: make(map[string]*models.Task)}
}

func (s *MemoryStore) CreateTask(_ context.Context, task *models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	if task.Status == "" {
		task.Status = models.StatusQueued
	}
	now := time.Now().UTC()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = now

	clone := *task
	s.tasks[task.ID] = &clone
	return nil
}

func (s *MemoryStore) GetTask(_ context.Context, id string) (*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	task, ok := s.tasks[id]
	if !ok {
		return nil, apperrors.NotFound("task", id)
	}
	clone := *task
	return &clone, nil
}

func (s *MemoryStore) GetActiveTaskForSession(_ context.Context, sessionID string) (*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *models.Task
	for _, task := range s.tasks {
		if task.SessionID != sessionID || !task.Active() {
			continue
		}
		if best == nil || task.CreatedAt.Before(best.CreatedAt) {
			best = task
		}
	}
	if best == nil {
		return nil, apperrors.NotFound("active task for session", sessionID)
	}
	clone := *best
	return &clone, nil
}

func (s *MemoryStore) CompleteTask(ctx context.Context, id string) error {
	return s.UpdateStatus(ctx, id, models.StatusDone)
}

func (s *MemoryStore) UpdateStatus(_ context.Context, id string, status models.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return apperrors.NotFound("task", id)
	}
	task.Status = status
	task.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) IncrementIterations(_ context.Context, id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return 0, apperrors.NotFound("task", id)
	}
	task.IterationsCompleted++
	task.UpdatedAt = time.Now().UTC()
	return task.IterationsCompleted, nil
}

func (s *MemoryStore) AssignNextQueued(_ context.Context, sessionID string) (*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var next *models.Task
	for _, task := range s.tasks {
		if task.Status != models.StatusQueued || task.SessionID != "" {
			continue
		}
		if next == nil || task.CreatedAt.Before(next.CreatedAt) {
			next = task
		}
	}
	if next == nil {
		return nil, nil
	}

	next.SessionID = sessionID
	next.Status = models.StatusInProgress
	next.UpdatedAt = time.Now().UTC()
	clone := *next
	return &clone, nil
}

func (s *MemoryStore) ListTasks(_ context.Context) ([]*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tasks := make([]*models.Task, 0, len(s.tasks))
	for _, task := range s.tasks {
		clone := *task
		tasks = append(tasks, &clone)
	}
	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
	})
	return tasks, nil
}

func (s *MemoryStore) Close() error { return nil }
