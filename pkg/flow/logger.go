package flow

import (
	"context"
	"fmt"
	"log"
	"strings"
)

// Field represents a structured logging field
type Field struct {
	Key   string
	Value any
}

// Logger defines the interface for logging within the engine
type Logger interface {
	Info(ctx context.Context, msg string, fields ...Field)
	Error(ctx context.Context, msg string, err error, fields ...Field)
	With(fields ...Field) Logger
}

type nopLogger struct{}

func (nopLogger) Info(context.Context, string, ...Field)         {}
func (nopLogger) Error(context.Context, string, error, ...Field) {}
func (l nopLogger) With(...Field) Logger                         { return l }

// NopLogger returns a Logger that discards everything.
func NopLogger() Logger {
	return nopLogger{}
}

// stdLogger writes "[LEVEL] msg k=v" lines through a *log.Logger.
type stdLogger struct {
	out    *log.Logger
	fields []Field
}

// NewStdLogger returns a Logger backed by out, or by the standard logger when out is nil.
func NewStdLogger(out *log.Logger) Logger {
	if out == nil {
		out = log.Default()
	}
	return &stdLogger{out: out}
}

func (l *stdLogger) Info(ctx context.Context, msg string, fields ...Field) {
	l.out.Println(l.format("[INFO] "+msg, fields))
}

func (l *stdLogger) Error(ctx context.Context, msg string, err error, fields ...Field) {
	l.out.Println(l.format(fmt.Sprintf("[ERROR] %s: %v", msg, err), fields))
}

func (l *stdLogger) With(fields ...Field) Logger {
	combined := make([]Field, 0, len(l.fields)+len(fields))
	combined = append(combined, l.fields...)
	combined = append(combined, fields...)
	return &stdLogger{out: l.out, fields: combined}
}

func (l *stdLogger) format(head string, fields []Field) string {
	var b strings.Builder
	b.WriteString(head)
	for _, f := range l.fields {
		fmt.Fprintf(&b, " %s=%v", f.Key, f.Value)
	}
	for _, f := range fields {
		fmt.Fprintf(&b, " %s=%v", f.Key, f.Value)
	}
	return b.String()
}
