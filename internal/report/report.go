package report

import (
	"context"

	"go.uber.org/zap"

	"enharness/internal/domain"
)

// Sink receives a finished run report. Implementations must tolerate
// being called once per run and should not mutate the report.
type Sink interface {
	Write(ctx context.Context, report *domain.RunReport) error
}

// LogSink emits the report through the structured logger. It is always
// attached; persistent sinks are layered on top of it.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Write(ctx context.Context, report *domain.RunReport) error {
	passed, failed, skipped := report.Counts()
	fields := []zap.Field{
		zap.String("run_id", report.RunID),
		zap.String("target", report.Target),
		zap.Time("started_at", report.StartedAt),
		zap.Time("finished_at", report.FinishedAt),
		zap.Int("passed", passed),
		zap.Int("failed", failed),
		zap.Int("skipped", skipped),
	}
	if first := report.FirstFailure(); first != nil {
		fields = append(fields,
			zap.String("first_failed_phase", first.Phase),
			zap.String("first_failed_check", first.Check),
			zap.String("failure_detail", first.Detail))
		s.logger.Warn("run finished with failures", fields...)
		return nil
	}
	s.logger.Info("run finished", fields...)
	return nil
}

// Multi fans a report out to every sink, returning the first error.
type Multi []Sink

func (m Multi) Write(ctx context.Context, report *domain.RunReport) error {
	for _, sink := range m {
		if err := sink.Write(ctx, report); err != nil {
			return err
		}
	}
	return nil
}
