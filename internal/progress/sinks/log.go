package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/research-scraper/internal/progress"
)

// LogSink writes each progress event as a structured log line.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink returns a LogSink; a nil logger yields a no-op sink.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs run milestones at Info and per-fetch events at Debug.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("run_id", evt.RunID),
			zap.String("stage", string(evt.Stage)),
			zap.Duration("dur", evt.Dur),
		}
		switch evt.Stage {
		case progress.StageRunStart:
			s.logger.Info("run started", fields...)
		case progress.StageRunDone:
			fields = append(fields, zap.Int("succeeded", evt.Succeeded), zap.Int("failed", evt.Failed))
			s.logger.Info("run finished", fields...)
		case progress.StageTaskFailed:
			fields = append(fields, zap.String("url", evt.URL), zap.Int("attempt", evt.Attempt), zap.String("note", evt.Note))
			s.logger.Warn("task failed", fields...)
		default:
			fields = append(fields,
				zap.String("url", evt.URL),
				zap.String("site", evt.Site),
				zap.String("strategy", evt.Strategy),
				zap.Int("attempt", evt.Attempt),
				zap.Int64("bytes", evt.Bytes),
				zap.String("status_class", string(evt.StatusClass)),
				zap.String("note", evt.Note),
			)
			s.logger.Debug("fetch progress", fields...)
		}
	}
	return nil
}

// Close is a no-op.
func (s *LogSink) Close(context.Context) error {
	return nil
}
