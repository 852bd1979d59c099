// Package log provides structured logging for dyadgo using zerolog,
// following the same global-logger-plus-component-child-logger pattern the
// rest of this codebase's lineage uses: a single package-level zerolog
// instance, configured once via Init, with With* helpers attaching the
// fields this domain's hook bodies actually need.
package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the global logger instance. Components derive child loggers
// from it via the With* helpers rather than constructing their own.
var Logger zerolog.Logger

// Level represents a log level.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config holds logging configuration.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// Init initializes the global logger. Safe to call once at process startup,
// before dyadctx.New runs.
func Init(cfg Config) {
	var level zerolog.Level
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
	case WarnLevel:
		level = zerolog.WarnLevel
	case ErrorLevel:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	if cfg.JSONOutput {
		Logger = zerolog.New(output).With().Timestamp().Logger()
	} else {
		Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}
}

func init() {
	// A process that never calls Init (e.g. a test, or a host application
	// that only links this package transitively) still gets output instead
	// of a zero-value logger that silently discards everything.
	Init(Config{Level: InfoLevel, JSONOutput: true})
}

// WithComponent creates a child logger tagged with the originating
// component (e.g. "publisher", "subscriber", "interpose").
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithRank creates a child logger tagged with the local rank.
func WithRank(rank uint32) zerolog.Logger {
	return Logger.With().Uint32("rank", rank).Logger()
}

// WithTopic creates a child logger tagged with a KVS topic key.
func WithTopic(topic string) zerolog.Logger {
	return Logger.With().Str("topic", topic).Logger()
}

// WithUserPath creates a child logger tagged with a managed-path-relative
// user path.
func WithUserPath(userPath string) zerolog.Logger {
	return Logger.With().Str("user_path", userPath).Logger()
}

func Info(msg string)  { Logger.Info().Msg(msg) }
func Debug(msg string) { Logger.Debug().Msg(msg) }
func Warn(msg string)  { Logger.Warn().Msg(msg) }
func Error(msg string) { Logger.Error().Msg(msg) }

// Errorf logs a single error-level line, the pattern hook bodies use to
// report a failure without ever propagating it to the caller: the message
// describes what was attempted, this just attaches the error.
func Errorf(msg string, err error) {
	Logger.Error().Err(err).Msg(msg)
}
