package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/w1np9uci/weibo-crawler/internal/progress"
)

// LogSink emits structured logs for debugging progress streams. It is useful
// during development or audits where a durable store is unavailable.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("task_id", evt.TaskID),
			zap.String("uid", evt.UID),
			zap.String("stage", string(evt.Stage)),
			zap.Int("page", evt.Page),
			zap.Int("fetched", evt.Fetched),
			zap.Int("written", evt.Written),
			zap.Int("percent", evt.Percent),
			zap.Duration("dur", evt.Dur),
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		s.logger.Info("progress event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
