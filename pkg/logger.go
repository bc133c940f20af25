package pkg

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Return slog.Logger object writing JSON to stdout
func SetupLogger(level string) *slog.Logger {
	return NewLogger(os.Stdout, level)
}

func NewLogger(w io.Writer, level string) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: parseLevel(level),
	})

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelDebug
	}
}
