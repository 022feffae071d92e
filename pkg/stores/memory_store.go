package stores

import (
	"context"
	"sort"
	"sync"

	"github.com/autoops/autoops/pkg/engine"
)

// MemoryStore is an in-memory engine.TaskStore used when no database is
// configured, and as the degraded fallback when the SQLite store cannot
// be opened. Records do not survive a restart.
type MemoryStore struct {
	mu    sync.RWMutex
	tasks map[string]*engine.Task
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tasks: make(map[string]*engine.Task)}
}

func (s *MemoryStore) PutTask(_ context.Context, task *engine.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.ID] = task
	return nil
}

func (s *MemoryStore) GetTask(_ context.Context, id string) (*engine.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[id]
	if !ok {
		return nil, engine.NewPermanentError("task not found", nil).
			WithCode(engine.ErrCodeNotFound).
			WithResource(id)
	}
	return task, nil
}

func (s *MemoryStore) ListTasks(_ context.Context) ([]*engine.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tasks := make([]*engine.Task, 0, len(s.tasks))
	for _, task := range s.tasks {
		tasks = append(tasks, task)
	}
	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
	})
	return tasks, nil
}

func (s *MemoryStore) DeleteTask(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, id)
	return nil
}

func (s *MemoryStore) Close() error { return nil }
