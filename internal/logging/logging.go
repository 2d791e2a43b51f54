// Package logging configures the process-wide slog logger.
package logging

import (
	"io"
	"log/slog"
	"os"

	slogmulti "github.com/samber/slog-multi"
)

// Setup creates the service logger: JSON to stdout, plus JSON to logFile
// when one is given. It installs the logger as the slog default and returns
// a cleanup function that closes the file.
func Setup(logFile string, level slog.Level) (*slog.Logger, func() error) {
	stdoutHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})

	if logFile == "" {
		logger := slog.New(stdoutHandler)
		slog.SetDefault(logger)
		return logger, func() error { return nil }
	}

	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		logger := slog.New(stdoutHandler)
		slog.SetDefault(logger)
		logger.Error("Failed to open log file, using stdout only.", "error", err, "file", logFile)
		return logger, func() error { return nil }
	}

	fileHandler := slog.NewJSONHandler(file, &slog.HandlerOptions{Level: level})
	logger := slog.New(slogmulti.Fanout(stdoutHandler, fileHandler))
	slog.SetDefault(logger)

	return logger, file.Close
}

// NewWithWriters creates a fan-out logger over custom writers (for testing).
func NewWithWriters(primary, secondary io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slogmulti.Fanout(
		slog.NewJSONHandler(primary, &slog.HandlerOptions{Level: level}),
		slog.NewTextHandler(secondary, &slog.HandlerOptions{Level: level}),
	))
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
