// Package sinks contains the progress.Sink implementations shipped with the
// crawler: structured logging, Prometheus export and an in-memory snapshot
// store backing the monitor API.
package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/edx-tools/edx-crawler/internal/progress"
)

// LogSink emits structured logs for the progress stream.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs the event using structured fields.
func (s *LogSink) Consume(_ context.Context, evt progress.Event) error {
	s.logger.Info("progress event",
		zap.String("run_id", evt.RunID.String()),
		zap.String("stage", string(evt.Stage)),
		zap.String("course", evt.Course),
		zap.String("url", evt.URL),
		zap.Int64("bytes", evt.Bytes),
		zap.String("status_class", string(evt.StatusClass)),
		zap.Duration("dur", evt.Dur),
		zap.String("note", evt.Note),
	)
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
