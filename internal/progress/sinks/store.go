package sinks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/w1np9uci/weibo-crawler/internal/progress"
	"github.com/w1np9uci/weibo-crawler/internal/weibo"
)

// StoreSink persists page-level progress onto the task record so API readers
// see an advancing percentage mid-run. It collapses batches to the latest
// percent per task to reduce write amplification. Terminal state transitions
// are owned by the worker, not this sink.
type StoreSink struct {
	tasks  weibo.TaskStore
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided task store.
func NewStoreSink(tasks weibo.TaskStore, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{tasks: tasks, logger: logger}
}

// Consume forwards the latest percent per task to the store. It respects ctx
// deadlines and returns any store errors verbatim.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.tasks == nil {
		return nil
	}
	latest := make(map[string]int)
	for _, evt := range batch {
		if evt.Stage != progress.StagePageDone {
			continue
		}
		if evt.Percent > latest[evt.TaskID] {
			latest[evt.TaskID] = evt.Percent
		}
	}
	for taskID, percent := range latest {
		if err := s.tasks.SetTaskProgress(ctx, taskID, percent); err != nil {
			return fmt.Errorf("set task progress: %w", err)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
