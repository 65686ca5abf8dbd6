package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/w1np9uci/weibo-crawler/internal/progress"
)

// PrometheusSink exports crawl progress metrics via Prometheus. It owns all
// collectors for tasks started/completed/running and per-user page counters.
type PrometheusSink struct {
	tasksStarted   prometheus.Counter
	tasksCompleted *prometheus.CounterVec
	tasksRunning   prometheus.Gauge
	taskRuntime    *prometheus.HistogramVec

	pagesTotal   prometheus.Counter
	postsFetched prometheus.Counter
	postsWritten prometheus.Counter
	pageDuration prometheus.Histogram

	tracker *taskTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		tasksStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "weibo_crawl_tasks_started_total",
			Help: "Total crawl tasks that have started.",
		}),
		tasksCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "weibo_crawl_tasks_completed_total",
			Help: "Total crawl tasks completed partitioned by result.",
		}, []string{"result"}),
		tasksRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "weibo_crawl_tasks_running",
			Help: "Current number of running crawl tasks.",
		}),
		taskRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "weibo_crawl_task_runtime_seconds",
			Help:    "Wall time per completed crawl task.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"result"}),
		pagesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "weibo_crawl_pages_total",
			Help: "Total timeline pages fetched.",
		}),
		postsFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "weibo_crawl_posts_fetched_total",
			Help: "Total posts observed across all fetched pages.",
		}),
		postsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "weibo_crawl_posts_written_total",
			Help: "Total new posts appended to per-user logs.",
		}),
		pageDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "weibo_crawl_page_duration_seconds",
			Help:    "Fetch duration per timeline page.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}),
		tracker: newTaskTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.tasksStarted,
		s.tasksCompleted,
		s.tasksRunning,
		s.taskRuntime,
		s.pagesTotal,
		s.postsFetched,
		s.postsWritten,
		s.pageDuration,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageTaskStart, progress.StageTaskDone, progress.StageTaskError:
		s.handleTaskEvent(evt)
	case progress.StagePageDone:
		s.handlePageEvent(evt)
	}
}

func (s *PrometheusSink) handleTaskEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageTaskStart:
		s.tasksStarted.Inc()
		if s.tracker.start(evt.TaskID) {
			s.tasksRunning.Inc()
		}
	case progress.StageTaskDone:
		s.tasksCompleted.WithLabelValues("success").Inc()
		s.observeRuntime(evt, "success")
	case progress.StageTaskError:
		s.tasksCompleted.WithLabelValues("error").Inc()
		s.observeRuntime(evt, "error")
	}
	if evt.Stage != progress.StageTaskStart && s.tracker.complete(evt.TaskID) {
		s.tasksRunning.Dec()
	}
}

func (s *PrometheusSink) observeRuntime(evt progress.Event, label string) {
	if evt.Dur > 0 {
		s.taskRuntime.WithLabelValues(label).Observe(evt.Dur.Seconds())
	}
}

func (s *PrometheusSink) handlePageEvent(evt progress.Event) {
	s.pagesTotal.Inc()
	if evt.Fetched > 0 {
		s.postsFetched.Add(float64(evt.Fetched))
	}
	if evt.Written > 0 {
		s.postsWritten.Add(float64(evt.Written))
	}
	if evt.Dur > 0 {
		s.pageDuration.Observe(evt.Dur.Seconds())
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type taskTracker struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func newTaskTracker() *taskTracker {
	return &taskTracker{running: make(map[string]struct{})}
}

func (t *taskTracker) start(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *taskTracker) complete(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
