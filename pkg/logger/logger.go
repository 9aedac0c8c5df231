// Package logger provides the process-wide structured logger used across
// Talos. It wraps log/slog behind a singleton so every package can log
// without threading a logger through every constructor, while remaining
// swappable in tests.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"sync/atomic"

	"github.com/stacklok/talos/pkg/env"
)

// unstructuredLogsEnvVar controls whether logs are emitted as plain,
// human-readable slog text (true, the default) or structured JSON (false).
const unstructuredLogsEnvVar = "UNSTRUCTURED_LOGS"

var singleton atomic.Pointer[slog.Logger]

func init() {
	singleton.Store(newLogger(os.Stderr, slog.LevelInfo, true))
}

// Initialize (re)configures the singleton logger from the real process
// environment. Call once at process startup, before any other package logs.
func Initialize() {
	InitializeWithEnv(env.OSReader{})
}

// InitializeWithEnv (re)configures the singleton logger using the given
// environment reader, so callers (and tests) can control the
// UNSTRUCTURED_LOGS toggle without mutating the real environment.
func InitializeWithEnv(reader env.Reader) {
	unstructured := unstructuredLogsWithEnv(reader)
	singleton.Store(newLogger(os.Stderr, slog.LevelInfo, unstructured))
}

// unstructuredLogsWithEnv reports whether UNSTRUCTURED_LOGS should be
// treated as true. Unset or unparsable values default to true: be
// human-readable unless explicitly told otherwise.
func unstructuredLogsWithEnv(reader env.Reader) bool {
	raw := reader.Getenv(unstructuredLogsEnvVar)
	if raw == "" {
		return true
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return true
	}
	return v
}

func newLogger(w io.Writer, level slog.Leveler, unstructured bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if unstructured {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// Get returns the current singleton logger.
func Get() *slog.Logger {
	return singleton.Load()
}

// WithFields returns a context carrying a logger annotated with the given
// key/value pairs, so subsequent FromContext(ctx) calls include them on
// every line, e.g. tenant_id/session_id for the lifetime of a single
// authorization request.
func WithFields(ctx context.Context, args ...any) context.Context {
	l := loggerFromContext(ctx).With(args...)
	return context.WithValue(ctx, loggerCtxKey{}, l)
}

// FromContext returns the logger attached to ctx by WithFields, or the
// package singleton if none was attached.
func FromContext(ctx context.Context) *slog.Logger {
	return loggerFromContext(ctx)
}

type loggerCtxKey struct{}

func loggerFromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return Get()
}

// Debug logs at debug level.
func Debug(msg string) { Get().Debug(msg) }

// Debugf logs a formatted message at debug level.
func Debugf(format string, args ...any) { Get().Debug(fmt.Sprintf(format, args...)) }

// Debugw logs a message with structured key/value pairs at debug level.
func Debugw(msg string, kv ...any) { Get().Debug(msg, kv...) }

// Info logs at info level.
func Info(msg string) { Get().Info(msg) }

// Infof logs a formatted message at info level.
func Infof(format string, args ...any) { Get().Info(fmt.Sprintf(format, args...)) }

// Infow logs a message with structured key/value pairs at info level.
func Infow(msg string, kv ...any) { Get().Info(msg, kv...) }

// Warn logs at warn level.
func Warn(msg string) { Get().Warn(msg) }

// Warnf logs a formatted message at warn level.
func Warnf(format string, args ...any) { Get().Warn(fmt.Sprintf(format, args...)) }

// Warnw logs a message with structured key/value pairs at warn level.
func Warnw(msg string, kv ...any) { Get().Warn(msg, kv...) }

// Error logs at error level.
func Error(msg string) { Get().Error(msg) }

// Errorf logs a formatted message at error level.
func Errorf(format string, args ...any) { Get().Error(fmt.Sprintf(format, args...)) }

// Errorw logs a message with structured key/value pairs at error level.
func Errorw(msg string, kv ...any) { Get().Error(msg, kv...) }

// DPanic logs at error level. Unlike Panic, it never panics; it exists for
// call sites that want to flag "this should never happen" without taking
// the process down in production.
func DPanic(msg string) { Get().Error(msg) }

// DPanicf logs a formatted message at error level without panicking.
func DPanicf(format string, args ...any) { Get().Error(fmt.Sprintf(format, args...)) }

// DPanicw logs a message with structured key/value pairs at error level
// without panicking.
func DPanicw(msg string, kv ...any) { Get().Error(msg, kv...) }

// Panic logs at error level and then panics with msg.
func Panic(msg string) {
	Get().Error(msg)
	panic(msg)
}

// Panicf logs a formatted message at error level and then panics with it.
func Panicf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	Get().Error(msg)
	panic(msg)
}

// Panicw logs a message with structured key/value pairs at error level and
// then panics with msg.
func Panicw(msg string, kv ...any) {
	Get().Error(msg, kv...)
	panic(msg)
}
