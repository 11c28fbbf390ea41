// Package logging defines the crawl kernel's Logger port and a
// stdlib-log-backed implementation, following the shape of the teacher's
// SimpleLogger: leveled calls, a context-carried request/session id, and
// structured fields encoded as JSON at the tail of each line.
package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
)

type ctxKey string

const sessionIDKey ctxKey = "session_id"

// WithSessionID returns a context carrying sessionID, picked up by every
// log call made with that context so log lines can be correlated to one
// crawl session without threading an id through every function signature.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDKey, sessionID)
}

// Fields is a structured field set attached to one log line.
type Fields map[string]any

// Logger is the leveled, structured logging port every package in the
// crawl kernel depends on.
type Logger interface {
	Debug(ctx context.Context, msg string, fields Fields)
	Info(ctx context.Context, msg string, fields Fields)
	Warn(ctx context.Context, msg string, fields Fields)
	Error(ctx context.Context, msg string, err error, fields Fields)
}

// StdLogger implements Logger on top of the standard library's log
// package, writing one line per call in "[LEVEL] msg error=... fields=..."
// form when an error is given, or "[LEVEL] msg {json fields}" without one.
type StdLogger struct{}

// NewStdLogger constructs the default Logger implementation.
func NewStdLogger() *StdLogger { return &StdLogger{} }

func (l *StdLogger) Debug(ctx context.Context, msg string, fields Fields) {
	l.print(ctx, "DEBUG", msg, fields, nil)
}

func (l *StdLogger) Info(ctx context.Context, msg string, fields Fields) {
	l.print(ctx, "INFO", msg, fields, nil)
}

func (l *StdLogger) Warn(ctx context.Context, msg string, fields Fields) {
	l.print(ctx, "WARN", msg, fields, nil)
}

func (l *StdLogger) Error(ctx context.Context, msg string, err error, fields Fields) {
	l.print(ctx, "ERROR", msg, fields, err)
}

func (l *StdLogger) print(ctx context.Context, level, msg string, fields Fields, err error) {
	fields = ensureSessionField(ctx, fields)
	encoded := encodeFields(fields)
	switch {
	case err != nil && encoded != "":
		log.Printf("[%s] %s error=%q fields=%s", level, msg, err.Error(), encoded)
	case err != nil:
		log.Printf("[%s] %s error=%q", level, msg, err.Error())
	case encoded != "":
		log.Printf("[%s] %s %s", level, msg, encoded)
	default:
		log.Printf("[%s] %s", level, msg)
	}
}

func ensureSessionField(ctx context.Context, fields Fields) Fields {
	if ctx == nil {
		return fields
	}
	sid, ok := ctx.Value(sessionIDKey).(string)
	if !ok || sid == "" {
		return fields
	}
	if fields == nil {
		fields = Fields{}
	}
	if _, exists := fields["session_id"]; !exists {
		fields["session_id"] = sid
	}
	return fields
}

func encodeFields(fields Fields) string {
	if len(fields) == 0 {
		return ""
	}
	b, err := json.Marshal(fields)
	if err != nil {
		return fmt.Sprintf("%v", fields)
	}
	return string(b)
}
