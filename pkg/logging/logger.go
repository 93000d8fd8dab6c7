// Package logging provides structured logging for dealbook.
// It wraps zerolog behind a small interface so engine components can log
// with fields, and tests can swap in a no-op logger.
//
// Logs go to stderr: JSON for scheduled imports, console output otherwise.
// Command output on stdout stays machine-readable either way.
package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Level represents logging severity levels.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Standard field keys shared by every component.
const (
	KeyComponent = "component"
	KeyRunID     = "run_id"
	KeyDataset   = "dataset"
	KeySource    = "source"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum level written.
	Level Level

	// App is stamped on every JSON entry.
	App string

	// JSONFormat selects JSON lines instead of console output.
	JSONFormat bool

	// Output defaults to os.Stderr.
	Output io.Writer
}

// DefaultConfig returns console logging at info level.
func DefaultConfig() *Config {
	return &Config{
		Level:  LevelInfo,
		App:    "dealbook",
		Output: os.Stderr,
	}
}

// Logger is the interface for structured logging.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)

	// With returns a Logger that adds fields to every entry.
	With(fields ...Field) Logger

	// WithContext returns a Logger carrying the run ID stored in ctx by
	// ContextWithRun.
	WithContext(ctx context.Context) Logger
}

// Field represents a key-value pair for structured logging.
type Field struct {
	Key   string
	Value any
}

// F creates a new Field with the given key and value.
func F(key string, value any) Field {
	return Field{Key: key, Value: value}
}

// Err creates a Field for an error.
func Err(err error) Field {
	return Field{Key: zerolog.ErrorFieldName, Value: err}
}

// Component names the engine part that wrote an entry.
func Component(name string) Field { return F(KeyComponent, name) }

// Dataset names the dataset being imported.
func Dataset(name string) Field { return F(KeyDataset, name) }

type ctxKey struct{}

var runIDCtxKey ctxKey

// ContextWithRun stores an import run ID in ctx.
func ContextWithRun(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDCtxKey, runID)
}

// RunIDFrom returns the run ID stored in ctx, if any.
func RunIDFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(runIDCtxKey).(string)
	return id, ok && id != ""
}

type logger struct {
	zl zerolog.Logger
}

// NewLogger creates a new Logger with the given configuration.
func NewLogger(cfg *Config) Logger {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	var zl zerolog.Logger
	if cfg.JSONFormat {
		zctx := zerolog.New(out).With().Timestamp()
		if cfg.App != "" {
			zctx = zctx.Str("app", cfg.App)
		}
		zl = zctx.Logger()
	} else {
		zl = zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}).
			With().Timestamp().Logger()
	}

	return &logger{zl: zl.Level(cfg.Level.toZerolog())}
}

// ParseLevel converts a config string to a Level, defaulting to info.
func ParseLevel(s string) Level {
	switch l := Level(strings.ToLower(strings.TrimSpace(s))); l {
	case LevelDebug, LevelWarn, LevelError:
		return l
	case "warning":
		return LevelWarn
	default:
		return LevelInfo
	}
}

func (l Level) toZerolog() zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func (l *logger) Debug(msg string, fields ...Field) { write(l.zl.Debug(), fields, msg) }
func (l *logger) Info(msg string, fields ...Field)  { write(l.zl.Info(), fields, msg) }
func (l *logger) Warn(msg string, fields ...Field)  { write(l.zl.Warn(), fields, msg) }
func (l *logger) Error(msg string, fields ...Field) { write(l.zl.Error(), fields, msg) }

func (l *logger) With(fields ...Field) Logger {
	zctx := l.zl.With()
	for _, f := range fields {
		zctx = put(zctx, f)
	}
	return &logger{zl: zctx.Logger()}
}

func (l *logger) WithContext(ctx context.Context) Logger {
	if id, ok := RunIDFrom(ctx); ok {
		return l.With(F(KeyRunID, id))
	}
	return l
}

func write(e *zerolog.Event, fields []Field, msg string) {
	for _, f := range fields {
		e = put(e, f)
	}
	e.Msg(msg)
}

// sink is the part of the zerolog API shared by *zerolog.Event and
// zerolog.Context.
type sink[T any] interface {
	Str(key, val string) T
	Strs(key string, vals []string) T
	Int(key string, i int) T
	Int64(key string, i int64) T
	Float64(key string, f float64) T
	Bool(key string, b bool) T
	Dur(key string, d time.Duration) T
	Time(key string, t time.Time) T
	Stringer(key string, val fmt.Stringer) T
	AnErr(key string, err error) T
	Interface(key string, i any) T
}

func put[T sink[T]](s T, f Field) T {
	switch v := f.Value.(type) {
	case string:
		return s.Str(f.Key, v)
	case []string:
		return s.Strs(f.Key, v)
	case int:
		return s.Int(f.Key, v)
	case int64:
		return s.Int64(f.Key, v)
	case float64:
		return s.Float64(f.Key, v)
	case bool:
		return s.Bool(f.Key, v)
	case time.Duration:
		return s.Dur(f.Key, v)
	case time.Time:
		return s.Time(f.Key, v)
	case error:
		return s.AnErr(f.Key, v)
	case fmt.Stringer:
		return s.Stringer(f.Key, v)
	default:
		return s.Interface(f.Key, v)
	}
}

var global Logger

// SetGlobal sets the logger returned by Global and MustGlobal.
func SetGlobal(l Logger) {
	global = l
}

// Global returns the logger set by SetGlobal and panics if there is none.
func Global() Logger {
	if global == nil {
		panic("logging: global logger not initialized, call SetGlobal first")
	}
	return global
}

// MustGlobal returns the global logger, initializing with defaults if not set.
func MustGlobal() Logger {
	if global == nil {
		global = NewLogger(DefaultConfig())
	}
	return global
}

type nopLogger struct{}

func (n nopLogger) Debug(string, ...Field)             {}
func (n nopLogger) Info(string, ...Field)              {}
func (n nopLogger) Warn(string, ...Field)              {}
func (n nopLogger) Error(string, ...Field)             {}
func (n nopLogger) With(...Field) Logger               { return n }
func (n nopLogger) WithContext(context.Context) Logger { return n }

// NewNopLogger returns a logger that discards everything.
func NewNopLogger() Logger {
	return nopLogger{}
}
