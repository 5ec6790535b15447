// Package logging defines the structured logging contract shared across
// the coordination plane: a Logger / ComponentAwareLogger split so every
// subsystem logs through the same shape while remaining free to tag its
// own component name.
package logging

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/trace"
)

// Fields is a structured set of key/value pairs attached to a log line.
type Fields map[string]interface{}

// Logger is the minimal structured logging interface every package
// depends on. Nothing in this module ever logs through the bare
// standard-library "log" package directly; everything goes through
// a Logger so call sites can be silenced, captured, or redirected in
// tests.
type Logger interface {
	Info(msg string, fields Fields)
	Warn(msg string, fields Fields)
	Error(msg string, fields Fields)
	Debug(msg string, fields Fields)

	InfoWithContext(ctx context.Context, msg string, fields Fields)
	WarnWithContext(ctx context.Context, msg string, fields Fields)
	ErrorWithContext(ctx context.Context, msg string, fields Fields)
	DebugWithContext(ctx context.Context, msg string, fields Fields)
}

// ComponentAwareLogger extends Logger with the ability to bind a
// component tag ("coordinator/http", "ralph/engine", …) that every
// subsequent log line from the returned Logger carries. Component names
// take the form "<package>/<part>", e.g. "session/manager" or
// "resilience/circuit_breaker".
type ComponentAwareLogger interface {
	Logger
	WithComponent(component string) Logger
}

// Level controls the minimum severity emitted by StdLogger.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}

// NoOpLogger discards everything. It is the safe zero-value default for
// every constructor in this repository.
type NoOpLogger struct{}

func (NoOpLogger) Info(string, Fields)  {}
func (NoOpLogger) Warn(string, Fields)  {}
func (NoOpLogger) Error(string, Fields) {}
func (NoOpLogger) Debug(string, Fields) {}

func (NoOpLogger) InfoWithContext(context.Context, string, Fields)  {}
func (NoOpLogger) WarnWithContext(context.Context, string, Fields)  {}
func (NoOpLogger) ErrorWithContext(context.Context, string, Fields) {}
func (NoOpLogger) DebugWithContext(context.Context, string, Fields) {}

func (n NoOpLogger) WithComponent(string) Logger { return n }

// StdLogger is a small structured logger writing line-oriented
// "key=value" records to stderr. It widens a simple line logger into the
// Logger/ComponentAwareLogger contract used here, and automatically
// attaches the active OpenTelemetry trace id as "trace_id" when one is
// present on the context, so logs and traces can be correlated without a
// separate request-id plumbing layer.
type StdLogger struct {
	mu        sync.Mutex
	level     Level
	component string
}

// NewStdLogger creates a logger writing to stderr at the given level.
func NewStdLogger(level Level) *StdLogger {
	return &StdLogger{level: level}
}

func (l *StdLogger) WithComponent(component string) Logger {
	return &StdLogger{level: l.level, component: component}
}

func (l *StdLogger) log(level string, lvl Level, msg string, fields Fields) {
	if lvl < l.level {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	var b strings.Builder
	b.WriteString("level=")
	b.WriteString(level)
	if l.component != "" {
		fmt.Fprintf(&b, " component=%s", l.component)
	}
	fmt.Fprintf(&b, " msg=%q", msg)
	for k, v := range fields {
		fmt.Fprintf(&b, " %s=%v", k, v)
	}
	log.New(os.Stderr, "", log.LstdFlags|log.LUTC).Print(b.String())
}

func (l *StdLogger) logCtx(ctx context.Context, level string, lvl Level, msg string, fields Fields) {
	if lvl < l.level {
		return
	}
	if ctx != nil {
		if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
			merged := Fields{}
			for k, v := range fields {
				merged[k] = v
			}
			merged["trace_id"] = sc.TraceID().String()
			fields = merged
		}
	}
	l.log(level, lvl, msg, fields)
}

func (l *StdLogger) Info(msg string, fields Fields)  { l.log("info", LevelInfo, msg, fields) }
func (l *StdLogger) Warn(msg string, fields Fields)  { l.log("warn", LevelWarn, msg, fields) }
func (l *StdLogger) Error(msg string, fields Fields) { l.log("error", LevelError, msg, fields) }
func (l *StdLogger) Debug(msg string, fields Fields) { l.log("debug", LevelDebug, msg, fields) }

func (l *StdLogger) InfoWithContext(ctx context.Context, msg string, fields Fields) {
	l.logCtx(ctx, "info", LevelInfo, msg, fields)
}
func (l *StdLogger) WarnWithContext(ctx context.Context, msg string, fields Fields) {
	l.logCtx(ctx, "warn", LevelWarn, msg, fields)
}
func (l *StdLogger) ErrorWithContext(ctx context.Context, msg string, fields Fields) {
	l.logCtx(ctx, "error", LevelError, msg, fields)
}
func (l *StdLogger) DebugWithContext(ctx context.Context, msg string, fields Fields) {
	l.logCtx(ctx, "debug", LevelDebug, msg, fields)
}

var _ ComponentAwareLogger = (*StdLogger)(nil)
var _ ComponentAwareLogger = NoOpLogger{}
