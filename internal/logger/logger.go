package logger

import (
	"io"
	"log/slog"
	"os"

	"github.com/jwebster45206/story-console/internal/config"
	slogmulti "github.com/samber/slog-multi"
)

// Setup configures the global slog logger based on environment. Records are
// written to w and fanned out to every extra handler.
func Setup(cfg *config.Config, w io.Writer, extra ...slog.Handler) *slog.Logger {
	var handler slog.Handler

	// Configure handler based on environment
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	if cfg.Environment == "production" {
		// JSON format for production
		handler = slog.NewJSONHandler(w, opts)
	} else {
		// Text format for development
		handler = slog.NewTextHandler(w, opts)
	}

	if len(extra) > 0 {
		handlers := append([]slog.Handler{handler}, extra...)
		handler = slogmulti.Fanout(handlers...)
	}

	logger := slog.New(handler)

	// Set as default logger
	slog.SetDefault(logger)

	return logger
}

// OpenFile opens the log file for appending. The console owns the terminal, so
// it never logs to stdout.
func OpenFile(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}

// WithSession adds the session id to logger context
func WithSession(logger *slog.Logger, sessionID string) *slog.Logger {
	return logger.With("session_id", sessionID)
}

// WithError adds error to logger context
func WithError(logger *slog.Logger, err error) *slog.Logger {
	if err == nil {
		return logger
	}
	return logger.With("error", err.Error())
}
