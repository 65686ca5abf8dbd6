// Package memory implements an in-process task store for single-node
// deployments and tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/w1np9uci/weibo-crawler/internal/weibo"
)

// Store keeps task records in a mutex-guarded map. Records are copied on the
// way in and out so callers cannot mutate stored state.
type Store struct {
	mu    sync.RWMutex
	tasks map[string]weibo.Task
	now   func() time.Time
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		tasks: make(map[string]weibo.Task),
		now:   time.Now,
	}
}

// NewWithClock returns a Store with an injected time source for tests.
func NewWithClock(now func() time.Time) *Store {
	s := New()
	if now != nil {
		s.now = now
	}
	return s
}

// CreateTask registers a new task record.
func (s *Store) CreateTask(_ context.Context, task weibo.Task) error {
	if task.ID == "" {
		return weibo.NewError(weibo.ErrKindConfiguration, "task id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[task.ID]; exists {
		return weibo.NewError(weibo.ErrKindConfiguration, "task id already exists")
	}
	s.tasks[task.ID] = copyTask(task)
	return nil
}

// UpdateTaskState transitions a task. Entering processing stamps the start
// time; terminal states stamp the finish time.
func (s *Store) UpdateTaskState(_ context.Context, taskID string, state weibo.TaskState, progress int, result *weibo.CrawlResult, errText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return weibo.NewError(weibo.ErrKindNotFound, "task not found")
	}
	now := s.now().UTC()
	task.State = state
	task.Progress = progress
	task.ErrorText = errText
	if result != nil {
		r := *result
		task.Result = &r
	}
	switch state {
	case weibo.TaskStateProcessing:
		if task.Started == nil {
			task.Started = &now
		}
	case weibo.TaskStateComplete, weibo.TaskStateFailed:
		task.Finished = &now
	}
	s.tasks[taskID] = task
	return nil
}

// SetTaskProgress advances the progress percentage of a running task. Updates
// to tasks already in a terminal state are ignored.
func (s *Store) SetTaskProgress(_ context.Context, taskID string, progress int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return weibo.NewError(weibo.ErrKindNotFound, "task not found")
	}
	if task.State != weibo.TaskStateProcessing {
		return nil
	}
	if progress > task.Progress {
		task.Progress = progress
		s.tasks[taskID] = task
	}
	return nil
}

// GetTask returns a copy of the task record.
func (s *Store) GetTask(_ context.Context, taskID string) (weibo.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return weibo.Task{}, weibo.NewError(weibo.ErrKindNotFound, "task not found")
	}
	return copyTask(task), nil
}

func copyTask(task weibo.Task) weibo.Task {
	out := task
	if task.Result != nil {
		r := *task.Result
		out.Result = &r
	}
	if task.Started != nil {
		t := *task.Started
		out.Started = &t
	}
	if task.Finished != nil {
		t := *task.Finished
		out.Finished = &t
	}
	if task.Extra != nil {
		extra := make(map[string]any, len(task.Extra))
		for k, v := range task.Extra {
			extra[k] = v
		}
		out.Extra = extra
	}
	return out
}
