package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// Init configures the global slog logger. Format "json" is meant for log
// aggregation; anything else gets the human-readable text handler.
func Init(w io.Writer, level, format string) error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		return fmt.Errorf("log level %q: %w", level, err)
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	slog.SetDefault(slog.New(handler))
	return nil
}

// WithUser returns a logger scoped to one user's requests.
func WithUser(logger *slog.Logger, userID, requestID string) *slog.Logger {
	return logger.With(
		"user_id", userID,
		"request_id", requestID,
	)
}
