package testutil

import "log/slog"

// DiscardLogger returns a slog.Logger that drops all output. Equivalent
// to log.NewNop(); provided here so tests outside internal/log can stay
// on one import.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
