package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the process-wide root logger; it discards everything until one
// of the Setup functions runs.
var Logger = zerolog.Nop()

var levels = map[string]zerolog.Level{
	"debug": zerolog.DebugLevel,
	"info":  zerolog.InfoLevel,
	"warn":  zerolog.WarnLevel,
	"error": zerolog.ErrorLevel,
}

// Setup points the root logger at w, defaulting to stderr. JSON is the
// machine format; anything else renders for a human on a terminal.
// Unrecognized level names fall back to info.
func Setup(level string, json bool, w io.Writer) {
	if w == nil {
		w = os.Stderr
	}
	if !json {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	lvl, ok := levels[level]
	if !ok {
		lvl = zerolog.InfoLevel
	}

	Logger = zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

// SetupFile appends JSON logs to path. Worker processes log this way: their
// stdout belongs to the framed result protocol and must stay clean.
func SetupFile(level, path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}

	Setup(level, true, f)
	return nil
}

// WithComponent tags a child logger with the owning component
func WithComponent(name string) zerolog.Logger {
	return Logger.With().Str("component", name).Logger()
}

// WithWorkerID tags a child logger with a worker id
func WithWorkerID(id string) zerolog.Logger {
	return Logger.With().Str("worker_id", id).Logger()
}

// WithTaskID tags a child logger with a task id
func WithTaskID(id string) zerolog.Logger {
	return Logger.With().Str("task_id", id).Logger()
}
