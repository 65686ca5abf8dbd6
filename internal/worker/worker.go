// Package worker implements the task lifecycle boundary around crawl runs:
// it consumes queue items, drives the engine, and reports state transitions.
package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/w1np9uci/weibo-crawler/internal/archive"
	"github.com/w1np9uci/weibo-crawler/internal/crawl"
	"github.com/w1np9uci/weibo-crawler/internal/metrics"
	"github.com/w1np9uci/weibo-crawler/internal/progress"
	"github.com/w1np9uci/weibo-crawler/internal/weibo"
)

// Progress checkpoints. A task jumps to the initial value when picked up and
// always lands on the terminal value, success or not.
const (
	initialProgress  = 5
	terminalProgress = 100
	pagingCeiling    = 95
)

// Runner is the crawl engine surface the worker drives.
type Runner interface {
	Run(ctx context.Context, req weibo.CrawlRequest, report crawl.Reporter) (weibo.CrawlResult, error)
	MaxPages(req weibo.CrawlRequest) int
}

// Config controls Worker behavior.
type Config struct {
	// Topic receives completion events when a publisher is configured.
	Topic string
	// ArchivePrefix namespaces snapshot objects when an archive is configured.
	ArchivePrefix string
}

// CompletionEvent is the payload published after a task reaches a terminal
// state.
type CompletionEvent struct {
	TaskID      string           `json:"task_id"`
	UID         string           `json:"uid"`
	State       weibo.TaskState  `json:"state"`
	Stats       weibo.CrawlStats `json:"stats"`
	OutputFile  string           `json:"output_file,omitempty"`
	SeenFile    string           `json:"seen_file,omitempty"`
	ArchiveURIs []string         `json:"archive_uris,omitempty"`
	Error       string           `json:"error,omitempty"`
	FinishedAt  time.Time        `json:"finished_at"`
}

// Worker consumes queue items and executes crawl runs. It performs no retries
// of its own; all retry logic lives in the protocol adapter.
type Worker struct {
	queue     weibo.Queue
	tasks     weibo.TaskStore
	runner    Runner
	publisher weibo.Publisher
	snapshots archive.Store
	emitter   progress.Emitter
	clock     weibo.Clock
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker. publisher, snapshots, and emitter may be nil.
func New(
	queue weibo.Queue,
	tasks weibo.TaskStore,
	runner Runner,
	publisher weibo.Publisher,
	snapshots archive.Store,
	emitter progress.Emitter,
	clock weibo.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if emitter == nil {
		emitter = progress.NopEmitter{}
	}
	return &Worker{
		queue:     queue,
		tasks:     tasks,
		runner:    runner,
		publisher: publisher,
		snapshots: snapshots,
		emitter:   emitter,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run blocks, consuming queue items until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued task",
			zap.String("task_id", item.TaskID),
			zap.String("uid", item.Request.UID),
		)
		w.processTask(ctx, item)
	}
}

func (w *Worker) processTask(ctx context.Context, item weibo.QueueItem) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	started := w.clock.Now()
	if err := w.tasks.UpdateTaskState(ctx, item.TaskID, weibo.TaskStateProcessing, initialProgress, nil, ""); err != nil {
		w.logger.Error("mark task processing failed",
			zap.String("task_id", item.TaskID),
			zap.Error(err),
		)
		return
	}
	w.emitter.Emit(progress.Event{
		TaskID:  item.TaskID,
		UID:     item.Request.UID,
		TS:      started,
		Stage:   progress.StageTaskStart,
		Percent: initialProgress,
	})

	result, err := w.runner.Run(ctx, item.Request, w.pageReporter(item))
	finished := w.clock.Now()
	dur := finished.Sub(started)

	if err != nil {
		w.finishFailed(ctx, item, result, err, finished, dur)
		return
	}
	w.finishComplete(ctx, item, result, finished, dur)
}

// pageReporter maps per-page callbacks onto progress events. Percent scales
// linearly across the page cap and never reaches the terminal value; only a
// state transition does that.
func (w *Worker) pageReporter(item weibo.QueueItem) crawl.Reporter {
	maxPages := w.runner.MaxPages(item.Request)
	return func(page, fetched, written int, dur time.Duration) {
		percent := pagingCeiling
		if maxPages > 0 {
			percent = initialProgress + (pagingCeiling-initialProgress)*page/maxPages
			if percent > pagingCeiling {
				percent = pagingCeiling
			}
		}
		w.emitter.Emit(progress.Event{
			TaskID:  item.TaskID,
			UID:     item.Request.UID,
			TS:      w.clock.Now(),
			Stage:   progress.StagePageDone,
			Page:    page,
			Fetched: fetched,
			Written: written,
			Percent: percent,
			Dur:     dur,
		})
	}
}

func (w *Worker) finishComplete(ctx context.Context, item weibo.QueueItem, result weibo.CrawlResult, finished time.Time, dur time.Duration) {
	if err := w.tasks.UpdateTaskState(ctx, item.TaskID, weibo.TaskStateComplete, terminalProgress, &result, ""); err != nil {
		w.logger.Error("mark task complete failed",
			zap.String("task_id", item.TaskID),
			zap.Error(err),
		)
	}
	metrics.ObserveTask(string(weibo.TaskStateComplete))
	w.emitter.Emit(progress.Event{
		TaskID:  item.TaskID,
		UID:     item.Request.UID,
		TS:      finished,
		Stage:   progress.StageTaskDone,
		Percent: terminalProgress,
		Dur:     dur,
	})

	uris := w.snapshot(ctx, item, result, finished)
	w.publish(ctx, CompletionEvent{
		TaskID:      item.TaskID,
		UID:         item.Request.UID,
		State:       weibo.TaskStateComplete,
		Stats:       result.Stats,
		OutputFile:  result.OutputFile,
		SeenFile:    result.SeenFile,
		ArchiveURIs: uris,
		FinishedAt:  finished.UTC(),
	})
	w.logger.Info("task complete",
		zap.String("task_id", item.TaskID),
		zap.String("uid", item.Request.UID),
		zap.Int("pages", result.Stats.Pages),
		zap.Int("fetched", result.Stats.Fetched),
		zap.Int("written", result.Stats.Written),
		zap.Duration("dur", dur),
	)
}

func (w *Worker) finishFailed(ctx context.Context, item weibo.QueueItem, result weibo.CrawlResult, runErr error, finished time.Time, dur time.Duration) {
	errText := runErr.Error()
	if !weibo.IsClassified(runErr) {
		errText = "unexpected error: " + errText
	}
	if err := w.tasks.UpdateTaskState(ctx, item.TaskID, weibo.TaskStateFailed, terminalProgress, nil, errText); err != nil {
		w.logger.Error("mark task failed failed",
			zap.String("task_id", item.TaskID),
			zap.Error(err),
		)
	}
	metrics.ObserveTask(string(weibo.TaskStateFailed))
	w.emitter.Emit(progress.Event{
		TaskID:  item.TaskID,
		UID:     item.Request.UID,
		TS:      finished,
		Stage:   progress.StageTaskError,
		Percent: terminalProgress,
		Dur:     dur,
		Note:    errText,
	})
	w.publish(ctx, CompletionEvent{
		TaskID:     item.TaskID,
		UID:        item.Request.UID,
		State:      weibo.TaskStateFailed,
		Stats:      result.Stats,
		Error:      errText,
		FinishedAt: finished.UTC(),
	})
	w.logger.Warn("task failed",
		zap.String("task_id", item.TaskID),
		zap.String("uid", item.Request.UID),
		zap.String("error", errText),
		zap.Duration("dur", dur),
	)
}

// snapshot uploads the run artifacts when an archive is configured. Archive
// failures never fail the task; the durable artifacts on local disk remain
// the source of truth.
func (w *Worker) snapshot(ctx context.Context, item weibo.QueueItem, result weibo.CrawlResult, finished time.Time) []string {
	if w.snapshots == nil || result.Stats.Written == 0 {
		return nil
	}
	uris, err := archive.Snapshot(ctx, w.snapshots, w.cfg.ArchivePrefix, item.Request.UID, finished,
		result.OutputFile, result.SeenFile)
	if err != nil {
		w.logger.Warn("artifact snapshot failed",
			zap.String("task_id", item.TaskID),
			zap.Error(err),
		)
	}
	return uris
}

func (w *Worker) publish(ctx context.Context, event CompletionEvent) {
	if w.publisher == nil || w.cfg.Topic == "" {
		return
	}
	id, err := w.publisher.Publish(ctx, w.cfg.Topic, event)
	if err != nil {
		w.logger.Warn("completion publish failed",
			zap.String("task_id", event.TaskID),
			zap.Error(err),
		)
		return
	}
	w.logger.Debug("completion published",
		zap.String("task_id", event.TaskID),
		zap.String("message_id", id),
	)
}
