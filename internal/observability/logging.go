package observability

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	outputOnce sync.Once
	output     io.Writer = os.Stdout
)

// NewLogger creates a structured JSON logger tagged with component.
// Level comes from CUSTODY_LOG_LEVEL (default info). When CUSTODY_LOG_FILE
// is set, logs are also written to that file with size-based rotation.
func NewLogger(component string) zerolog.Logger {
	level := ParseLogLevel(os.Getenv("CUSTODY_LOG_LEVEL"))
	return NewLoggerWithLevel(component, level)
}

// NewLoggerWithLevel creates a logger with an explicit level.
func NewLoggerWithLevel(component string, level zerolog.Level) zerolog.Logger {
	return zerolog.New(logOutput()).
		Level(level).
		With().
		Timestamp().
		Str("component", component).
		Logger()
}

// NopLogger is used where no logger was injected (tests).
func NopLogger() zerolog.Logger {
	return zerolog.Nop()
}

func logOutput() io.Writer {
	outputOnce.Do(func() {
		path := os.Getenv("CUSTODY_LOG_FILE")
		if path == "" {
			return
		}
		output = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   path,
			MaxSize:    100, // megabytes
			MaxBackups: 10,
			MaxAge:     30, // days
			Compress:   true,
		})
	})
	return output
}

func ParseLogLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zerolog.DebugLevel
	case "info", "":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
}
