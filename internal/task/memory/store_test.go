package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/w1np9uci/weibo-crawler/internal/weibo"
)

func TestTaskLifecycle(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s := NewWithClock(func() time.Time { return now })
	ctx := context.Background()

	require.NoError(t, s.CreateTask(ctx, weibo.Task{
		ID:        "t1",
		State:     weibo.TaskStatePending,
		Submitted: now,
		Request:   weibo.CrawlRequest{UID: "100"},
	}))

	require.NoError(t, s.UpdateTaskState(ctx, "t1", weibo.TaskStateProcessing, 5, nil, ""))
	task, err := s.GetTask(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, weibo.TaskStateProcessing, task.State)
	require.Equal(t, 5, task.Progress)
	require.NotNil(t, task.Started)
	require.Nil(t, task.Finished)

	result := weibo.CrawlResult{UID: "100", ContainerID: "c", Stats: weibo.CrawlStats{Pages: 2, Fetched: 4, Written: 3}}
	require.NoError(t, s.UpdateTaskState(ctx, "t1", weibo.TaskStateComplete, 100, &result, ""))

	task, err = s.GetTask(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, weibo.TaskStateComplete, task.State)
	require.Equal(t, 100, task.Progress)
	require.NotNil(t, task.Finished)
	require.NotNil(t, task.Result)
	require.Equal(t, 3, task.Result.Stats.Written)
}

func TestFailedTaskKeepsErrorText(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	require.NoError(t, s.CreateTask(ctx, weibo.Task{ID: "t2", State: weibo.TaskStatePending, Submitted: time.Now()}))
	require.NoError(t, s.UpdateTaskState(ctx, "t2", weibo.TaskStateFailed, 100, nil, "weibo transport error: retry budget exhausted"))

	task, err := s.GetTask(ctx, "t2")
	require.NoError(t, err)
	require.Equal(t, weibo.TaskStateFailed, task.State)
	require.Contains(t, task.ErrorText, "retry budget exhausted")
}

func TestSetTaskProgressOnlyAdvancesRunningTasks(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	require.NoError(t, s.CreateTask(ctx, weibo.Task{ID: "t3", State: weibo.TaskStatePending, Submitted: time.Now()}))

	// Pending task: progress updates are ignored.
	require.NoError(t, s.SetTaskProgress(ctx, "t3", 40))
	task, err := s.GetTask(ctx, "t3")
	require.NoError(t, err)
	require.Zero(t, task.Progress)

	require.NoError(t, s.UpdateTaskState(ctx, "t3", weibo.TaskStateProcessing, 5, nil, ""))
	require.NoError(t, s.SetTaskProgress(ctx, "t3", 40))
	require.NoError(t, s.SetTaskProgress(ctx, "t3", 20)) // regressions ignored

	task, err = s.GetTask(ctx, "t3")
	require.NoError(t, err)
	require.Equal(t, 40, task.Progress)
}

func TestUnknownAndDuplicateTasks(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()

	_, err := s.GetTask(ctx, "missing")
	require.Equal(t, weibo.ErrKindNotFound, weibo.KindOf(err))

	err = s.UpdateTaskState(ctx, "missing", weibo.TaskStateProcessing, 5, nil, "")
	require.Equal(t, weibo.ErrKindNotFound, weibo.KindOf(err))

	require.NoError(t, s.CreateTask(ctx, weibo.Task{ID: "dup", Submitted: time.Now()}))
	require.Error(t, s.CreateTask(ctx, weibo.Task{ID: "dup", Submitted: time.Now()}))
}

func TestGetTaskReturnsCopy(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	result := weibo.CrawlResult{UID: "1"}
	require.NoError(t, s.CreateTask(ctx, weibo.Task{ID: "t4", Submitted: time.Now()}))
	require.NoError(t, s.UpdateTaskState(ctx, "t4", weibo.TaskStateComplete, 100, &result, ""))

	got, err := s.GetTask(ctx, "t4")
	require.NoError(t, err)
	got.Result.UID = "mutated"

	again, err := s.GetTask(ctx, "t4")
	require.NoError(t, err)
	require.Equal(t, "1", again.Result.UID)
}
