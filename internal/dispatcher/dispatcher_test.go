package dispatcher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/w1np9uci/weibo-crawler/internal/crawl"
	"github.com/w1np9uci/weibo-crawler/internal/metrics"
	queuememory "github.com/w1np9uci/weibo-crawler/internal/queue/memory"
	taskmemory "github.com/w1np9uci/weibo-crawler/internal/task/memory"
	"github.com/w1np9uci/weibo-crawler/internal/weibo"
	"github.com/w1np9uci/weibo-crawler/internal/worker"
)

func init() {
	metrics.Init()
}

type staticRunner struct{}

func (staticRunner) Run(context.Context, weibo.CrawlRequest, crawl.Reporter) (weibo.CrawlResult, error) {
	return weibo.CrawlResult{Stats: weibo.CrawlStats{Pages: 1}}, nil
}

func (staticRunner) MaxPages(weibo.CrawlRequest) int { return 1 }

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func TestDispatcherFansOutToWorkers(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	queue := queuememory.NewQueue(8)
	tasks := taskmemory.New()

	var workers []*worker.Worker
	for i := 0; i < 3; i++ {
		workers = append(workers, worker.New(
			queue, tasks, staticRunner{}, nil, nil, nil, systemClock{}, worker.Config{}, zap.NewNop(),
		))
	}
	d := New(queue, workers)
	go d.Run(ctx)

	ids := []string{"a", "b", "c", "d"}
	for _, id := range ids {
		require.NoError(t, tasks.CreateTask(ctx, weibo.Task{
			ID:        id,
			State:     weibo.TaskStatePending,
			Submitted: time.Now(),
		}))
		require.NoError(t, d.Enqueue(ctx, weibo.QueueItem{TaskID: id}))
	}

	require.Eventually(t, func() bool {
		for _, id := range ids {
			task, err := tasks.GetTask(ctx, id)
			if err != nil || task.State != weibo.TaskStateComplete {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDispatcherRunStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	queue := queuememory.NewQueue(1)
	d := New(queue, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after cancellation")
	}
}
