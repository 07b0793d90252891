package maintenance

import "log/slog"

// runLogger is the narrow logging surface the engine needs: structured,
// leveled, and cheap to no-op. Grounded on observability/logging's slog
// convention, the same structured-logging style core/ and native/ packages
// in this tree already use.
type runLogger struct {
	logger *slog.Logger
}

func newRunLogger(logger *slog.Logger) runLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return runLogger{logger: logger.With(slog.String("component", "maintenance"))}
}

func (l runLogger) skippedParticipant(step string, err *ParticipantError) {
	l.logger.Warn("maintenance: participant skipped",
		slog.String("step", step),
		slog.Uint64("account", err.Account),
		slog.String("cause", err.Cause.Error()),
	)
}

func (l runLogger) runSummary(now int64, nextMaintenance int64, producers, committee int) {
	l.logger.Info("maintenance: run complete",
		slog.Int64("head_block_time", now),
		slog.Int64("next_maintenance_time", nextMaintenance),
		slog.Int("active_producers", producers),
		slog.Int("active_committee", committee),
	)
}
