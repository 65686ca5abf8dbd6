package sinks

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/w1np9uci/weibo-crawler/internal/progress"
	"github.com/w1np9uci/weibo-crawler/internal/weibo"
)

type progressRecorder struct {
	mu    sync.Mutex
	calls map[string][]int
}

func (r *progressRecorder) CreateTask(context.Context, weibo.Task) error { return nil }

func (r *progressRecorder) UpdateTaskState(context.Context, string, weibo.TaskState, int, *weibo.CrawlResult, string) error {
	return nil
}

func (r *progressRecorder) SetTaskProgress(_ context.Context, taskID string, percent int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.calls == nil {
		r.calls = make(map[string][]int)
	}
	r.calls[taskID] = append(r.calls[taskID], percent)
	return nil
}

func (r *progressRecorder) GetTask(context.Context, string) (weibo.Task, error) {
	return weibo.Task{}, weibo.NewError(weibo.ErrKindNotFound, "not found")
}

func TestStoreSinkCollapsesToMaxPercentPerTask(t *testing.T) {
	t.Parallel()

	rec := &progressRecorder{}
	sink := NewStoreSink(rec, nil)
	now := time.Now()

	batch := []progress.Event{
		{TaskID: "a", TS: now, Stage: progress.StagePageDone, Page: 1, Percent: 20},
		{TaskID: "a", TS: now, Stage: progress.StagePageDone, Page: 2, Percent: 35},
		{TaskID: "b", TS: now, Stage: progress.StagePageDone, Page: 1, Percent: 50},
		{TaskID: "a", TS: now, Stage: progress.StageTaskDone, Percent: 100},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, []int{35}, rec.calls["a"])
	require.Equal(t, []int{50}, rec.calls["b"])
}

func TestStoreSinkIgnoresLifecycleEvents(t *testing.T) {
	t.Parallel()

	rec := &progressRecorder{}
	sink := NewStoreSink(rec, nil)
	now := time.Now()

	batch := []progress.Event{
		{TaskID: "a", TS: now, Stage: progress.StageTaskStart, Percent: 5},
		{TaskID: "a", TS: now, Stage: progress.StageTaskError, Percent: 100},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))
	require.Empty(t, rec.calls)
}

func TestPrometheusSinkCountsTasksAndPages(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	now := time.Now()
	batch := []progress.Event{
		{TaskID: "a", UID: "u", TS: now, Stage: progress.StageTaskStart},
		{TaskID: "a", UID: "u", TS: now, Stage: progress.StagePageDone, Page: 1, Fetched: 10, Written: 7, Dur: 200 * time.Millisecond},
		{TaskID: "a", UID: "u", TS: now, Stage: progress.StagePageDone, Page: 2, Fetched: 5, Written: 0, Dur: 150 * time.Millisecond},
		{TaskID: "a", UID: "u", TS: now, Stage: progress.StageTaskDone, Dur: time.Second},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, float64(1), testutil.ToFloat64(sink.tasksStarted))
	require.Equal(t, float64(1), testutil.ToFloat64(sink.tasksCompleted.WithLabelValues("success")))
	require.Equal(t, float64(0), testutil.ToFloat64(sink.tasksRunning))
	require.Equal(t, float64(2), testutil.ToFloat64(sink.pagesTotal))
	require.Equal(t, float64(15), testutil.ToFloat64(sink.postsFetched))
	require.Equal(t, float64(7), testutil.ToFloat64(sink.postsWritten))
}

func TestPrometheusSinkRunningGaugeTracksDistinctTasks(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	now := time.Now()
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{TaskID: "a", TS: now, Stage: progress.StageTaskStart},
		{TaskID: "a", TS: now, Stage: progress.StageTaskStart}, // duplicate start
		{TaskID: "b", TS: now, Stage: progress.StageTaskStart},
	}))
	require.Equal(t, float64(2), testutil.ToFloat64(sink.tasksRunning))

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{TaskID: "a", TS: now, Stage: progress.StageTaskError},
		{TaskID: "a", TS: now, Stage: progress.StageTaskError}, // already completed
	}))
	require.Equal(t, float64(1), testutil.ToFloat64(sink.tasksRunning))
	require.Equal(t, float64(2), testutil.ToFloat64(sink.tasksCompleted.WithLabelValues("error")))
}

func TestPrometheusSinkDoubleRegistrationFails(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}
