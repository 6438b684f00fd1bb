// Package logger provides leveled logging on top of log/slog.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"time"
)

var defaultLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

// Init initializes the default logger with the specified level and format.
// Format is "json" or "text"; anything else falls back to json.
func Init(level string, format string) {
	InitWithWriter(level, format, os.Stderr)
}

// InitWithWriter is Init with an explicit destination.
func InitWithWriter(level string, format string, w io.Writer) {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}

	var h slog.Handler
	if strings.ToLower(format) == "text" {
		opts.AddSource = true
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}
	defaultLogger = slog.New(h)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func output(level slog.Level, format string, args ...interface{}) {
	ctx := context.Background()
	if !defaultLogger.Enabled(ctx, level) {
		return
	}
	var pcs [1]uintptr
	runtime.Callers(3, pcs[:]) // skip Callers, output and the exported wrapper
	r := slog.NewRecord(time.Now(), level, fmt.Sprintf(format, args...), pcs[0])
	_ = defaultLogger.Handler().Handle(ctx, r)
}

func Debug(format string, args ...interface{}) {
	output(slog.LevelDebug, format, args...)
}

func Info(format string, args ...interface{}) {
	output(slog.LevelInfo, format, args...)
}

func Warn(format string, args ...interface{}) {
	output(slog.LevelWarn, format, args...)
}

func Error(format string, args ...interface{}) {
	output(slog.LevelError, format, args...)
}

// Fatal logs at error level and exits the process.
func Fatal(format string, args ...interface{}) {
	output(slog.LevelError, "FATAL: "+format, args...)
	os.Exit(1)
}
