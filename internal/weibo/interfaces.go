package weibo

import (
	"context"
	"time"
)

// TaskStore persists task lifecycle records. Implementations exist for
// in-process (memory) and distributed (Postgres) deployments.
type TaskStore interface {
	CreateTask(ctx context.Context, task Task) error
	UpdateTaskState(ctx context.Context, taskID string, state TaskState, progress int, result *CrawlResult, errText string) error
	SetTaskProgress(ctx context.Context, taskID string, progress int) error
	GetTask(ctx context.Context, taskID string) (Task, error)
}

// Queue provides enqueue/dequeue semantics for crawl tasks.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces task IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
