package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-csv-ingest/internal/progress"
)

// LogSink emits a structured log line per broadcast. It is useful during
// development or audits where metrics are not scraped.
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

// Consume logs each delivery in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []progress.Delivery) error {
	for _, d := range batch {
		s.logger.Info("progress broadcast",
			zap.String("request_id", d.Event.RequestID),
			zap.Float64("progress", d.Event.Progress),
			zap.Int("recipients", d.Recipients),
			zap.Int("dropped", d.Dropped),
			zap.Time("ts", d.TS),
		)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
