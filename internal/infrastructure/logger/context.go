package logger

import (
	"context"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type contextKey string

const (
	loggerKey    contextKey = "logger"
	requestIDKey contextKey = "request_id"
	backendIDKey contextKey = "backend_id"
	jobIDKey     contextKey = "job_id"
)

// WithContext returns a new context with the logger attached
func WithContext(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext retrieves the logger from context, a no-op logger if none is attached
func FromContext(ctx context.Context) *zap.Logger {
	if logger, ok := ctx.Value(loggerKey).(*zap.Logger); ok {
		return logger
	}
	return zap.NewNop()
}

// WithRequestID tags the context with the HTTP request ID
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// WithBackendID tags the context with the POS backend being synchronized
func WithBackendID(ctx context.Context, backendID uuid.UUID) context.Context {
	return context.WithValue(ctx, backendIDKey, backendID)
}

// WithJobID tags the context with the queued job being run
func WithJobID(ctx context.Context, jobID uuid.UUID) context.Context {
	return context.WithValue(ctx, jobIDKey, jobID)
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(requestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// GetBackendID retrieves the backend ID from context, uuid.Nil when absent
func GetBackendID(ctx context.Context) uuid.UUID {
	if id, ok := ctx.Value(backendIDKey).(uuid.UUID); ok {
		return id
	}
	return uuid.Nil
}

// GetJobID retrieves the job ID from context, uuid.Nil when absent
func GetJobID(ctx context.Context) uuid.UUID {
	if id, ok := ctx.Value(jobIDKey).(uuid.UUID); ok {
		return id
	}
	return uuid.Nil
}

// contextFields returns the correlation fields found in ctx
func contextFields(ctx context.Context) []zap.Field {
	var fields []zap.Field
	if spanCtx := trace.SpanContextFromContext(ctx); spanCtx.IsValid() {
		fields = append(fields,
			zap.String("trace_id", spanCtx.TraceID().String()),
			zap.String("span_id", spanCtx.SpanID().String()),
		)
	}
	if requestID := GetRequestID(ctx); requestID != "" {
		fields = append(fields, zap.String("request_id", requestID))
	}
	if id := GetBackendID(ctx); id != uuid.Nil {
		fields = append(fields, zap.String("backend_id", id.String()))
	}
	if id := GetJobID(ctx); id != uuid.Nil {
		fields = append(fields, zap.String("job_id", id.String()))
	}
	return fields
}

// L returns the context logger enriched with the trace, request, backend
// and job identifiers found in ctx.
// Usage: logger.L(ctx).Info("Import done", zap.String("entity_type", "customer"))
func L(ctx context.Context) *zap.Logger {
	return FromContext(ctx).With(contextFields(ctx)...)
}
