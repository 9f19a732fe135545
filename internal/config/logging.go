package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// SetupLogging configures the global slog logger for the given console mode.
// Returns the log file (caller must close it) or nil if no file is used.
func SetupLogging(args Args, mode string) (io.Closer, error) {
	var writers []io.Writer
	var logFile *lumberjack.Logger

	if args.Log != "" {
		// lumberjack opens lazily, so check the directory up front
		if _, err := os.Stat(filepath.Dir(args.Log)); err != nil {
			return nil, fmt.Errorf("log directory: %w", err)
		}
		logFile = &lumberjack.Logger{
			Filename:   args.Log,
			MaxSize:    10, // megabytes
			MaxBackups: 5,
			MaxAge:     30, // days
			Compress:   true,
		}
		writers = append(writers, logFile)
	}

	switch mode {
	case "tui":
		// TUI owns the terminal: only log to file (or discard if no file)
		if len(writers) == 0 {
			writers = append(writers, io.Discard)
		}
	default:
		// JSON and text modes write data to stdout and logs to stderr
		writers = append(writers, os.Stderr)
	}

	var output io.Writer
	if len(writers) == 1 {
		output = writers[0]
	} else {
		output = io.MultiWriter(writers...)
	}

	opts := &slog.HandlerOptions{
		Level: parseLogLevel(args.LogLevel),
	}
	if opts.Level == slog.LevelDebug {
		opts.AddSource = true
	}

	var handler slog.Handler
	if mode == "json" {
		handler = slog.NewJSONHandler(output, opts)
	} else {
		handler = slog.NewTextHandler(output, opts)
	}
	slog.SetDefault(slog.New(handler))

	if logFile == nil {
		return nil, nil
	}
	return logFile, nil
}

// parseLogLevel converts string to slog.Level
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
