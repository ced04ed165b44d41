package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/scrapeworks/sift/internal/progress"
)

// LogSink emits structured logs for the stats stream. Useful during
// development or when no metrics backend is configured.
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
		s.logger.Info("stats event",
			zap.String("run_id", evt.RunID),
			zap.String("kind", string(evt.Kind)),
			zap.Int64("count", evt.Count),
			zap.Int64("entries", evt.Entries),
			zap.String("url", evt.URL),
			zap.Duration("dur", evt.Dur),
			zap.String("note", evt.Note),
		)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
