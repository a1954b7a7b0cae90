// Package obslog builds the structured zerolog logger used by the
// cmd/fgcore-bridge binary and provides the goroutine panic-recovery
// helper the worker pool defers around each task, grounded
// on the teacher's internal/shared/monitoring/logger.go.
package obslog

import (
	"io"
	"os"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
)

// Level is the minimum severity a Logger emits.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Format selects the logger's output encoding.
type Format string

const (
	FormatJSON   Format = "json"
	FormatPretty Format = "pretty"
)

// Config configures New.
type Config struct {
	Service string
	Level   Level
	Format  Format
}

// New builds a zerolog.Logger tagged with a service name, timestamp,
// and caller info — JSON by default, console-rendered under
// FormatPretty for local development.
func New(cfg Config) zerolog.Logger {
	var output io.Writer = os.Stdout

	var level zerolog.Level
	switch cfg.Level {
	case LevelDebug:
		level = zerolog.DebugLevel
	case LevelWarn:
		level = zerolog.WarnLevel
	case LevelError:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == FormatPretty {
		output = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	service := cfg.Service
	if service == "" {
		service = "fgcore-bridge"
	}

	return zerolog.New(output).With().Timestamp().Caller().Str("service", service).Logger()
}

// RecoverPanic is deferred around a goroutine's work; the worker pool
// defers it around every task. It logs the panic with a
// stack trace and lets the goroutine return instead of crashing the
// process.
func RecoverPanic(logger zerolog.Logger, goroutineName string, fields map[string]any) {
	if r := recover(); r != nil {
		event := logger.Error().
			Str("goroutine", goroutineName).
			Interface("panic_value", r).
			Str("stack_trace", string(debug.Stack()))
		for k, v := range fields {
			event = event.Interface(k, v)
		}
		event.Msg("goroutine panic recovered")
	}
}
