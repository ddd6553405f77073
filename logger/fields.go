package logger

import (
	"context"

	"go.uber.org/zap"
)

// Standard field names for structured logging.
const (
	// Identity
	FieldJobID     = "job_id"
	FieldRequestID = "request_id"
	FieldComponent = "component"

	// Job lifecycle
	FieldState       = "state"
	FieldPrevState   = "prev_state"
	FieldErrorKind   = "error_kind"
	FieldScheduledAt = "scheduled_at"
	FieldStartedAt   = "started_at"
	FieldDurationSec = "duration_seconds"
	FieldLateness    = "lateness"
	FieldAttempt     = "attempt"

	// Capture
	FieldDevice     = "device"
	FieldOutputPath = "output_path"
	FieldBytes      = "bytes"
	FieldElapsed    = "elapsed"
	FieldHolderPID  = "holder_pid"

	// Generic
	FieldDurationMS = "duration_ms"
	FieldError      = "error"
	FieldCount      = "count"
	FieldPath       = "path"
	FieldAddress    = "address"
	FieldBackend    = "backend"
	FieldSymbol     = "symbol"
)

type contextKey string

const (
	jobIDKey     contextKey = "logger_job_id"
	requestIDKey contextKey = "logger_request_id"
	componentKey contextKey = "logger_component"
)

// WithJobID adds a job ID to the context for logging
func WithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, jobIDKey, jobID)
}

// WithRequestID adds a request ID to the context for logging
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// WithComponent adds a component name to the context for logging
func WithComponent(ctx context.Context, component string) context.Context {
	return context.WithValue(ctx, componentKey, component)
}

// FieldsFromContext extracts logging fields from context as key-value pairs
// suitable for Infow/Errorw.
func FieldsFromContext(ctx context.Context) []interface{} {
	var fields []interface{}

	if jobID, ok := ctx.Value(jobIDKey).(string); ok && jobID != "" {
		fields = append(fields, FieldJobID, jobID)
	}
	if requestID, ok := ctx.Value(requestIDKey).(string); ok && requestID != "" {
		fields = append(fields, FieldRequestID, requestID)
	}
	if component, ok := ctx.Value(componentKey).(string); ok && component != "" {
		fields = append(fields, FieldComponent, component)
	}

	return fields
}

// LoggerFromContext returns the global logger enriched with context fields.
func LoggerFromContext(ctx context.Context) *zap.SugaredLogger {
	fields := FieldsFromContext(ctx)
	if len(fields) == 0 {
		return Logger
	}
	return Logger.With(fields...)
}

// ComponentLogger returns a named logger for a specific component.
//
//	c.log = logger.ComponentLogger("pulse.session")
func ComponentLogger(name string) *zap.SugaredLogger {
	return Logger.Named(name)
}
