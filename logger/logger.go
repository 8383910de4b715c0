package logger

import "context"

// Logger is the structured, context-aware logger used across the orchestrator.
// Fields are attached per call or bound once with WithField/WithFields, e.g. a
// session-scoped logger carrying "session_id".
type Logger interface {
	Debug(ctx context.Context, msg string, fields map[string]interface{})
	Info(ctx context.Context, msg string, fields map[string]interface{})
	Warn(ctx context.Context, msg string, fields map[string]interface{})
	Error(ctx context.Context, msg string, fields map[string]interface{})

	// WithField returns a logger that adds key=value to every entry.
	WithField(key string, value interface{}) Logger

	// WithFields returns a logger that adds all fields to every entry.
	WithFields(fields map[string]interface{}) Logger
}

// Discard returns a Logger that drops everything.
func Discard() Logger {
	return nopLogger{}
}

type nopLogger struct{}

func (nopLogger) Debug(context.Context, string, map[string]interface{}) {}
func (nopLogger) Info(context.Context, string, map[string]interface{})  {}
func (nopLogger) Warn(context.Context, string, map[string]interface{})  {}
func (nopLogger) Error(context.Context, string, map[string]interface{}) {}

func (n nopLogger) WithField(string, interface{}) Logger     { return n }
func (n nopLogger) WithFields(map[string]interface{}) Logger { return n }
