package tracing

import (
	"context"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// ContextKey is the type for context keys
type ContextKey string

const (
	// TraceIDKey is the context key for trace ID
	TraceIDKey ContextKey = "trace_id"
	// RunIDKey is the context key for the agent run ID
	RunIDKey ContextKey = "run_id"
	// RequestIDKey is the context key for the inbound request ID
	RequestIDKey ContextKey = "request_id"
	// ModelKey is the context key for the model identifier serving the request
	ModelKey ContextKey = "model"
)

// TraceContext holds tracing information
type TraceContext struct {
	TraceID   string
	RunID     string
	RequestID string
	Model     string
}

// NewTraceID generates a new trace ID
func NewTraceID() string {
	return uuid.New().String()
}

// NewRunID generates a new run ID
func NewRunID() string {
	return uuid.New().String()
}

// NewRequestID generates a short URL-safe request ID.
func NewRequestID() string {
	return gonanoid.Must(12)
}

// WithTraceID adds a trace ID to the context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// WithRunID adds a run ID to the context
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, RunIDKey, runID)
}

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithModel adds the model identifier to the context
func WithModel(ctx context.Context, model string) context.Context {
	return context.WithValue(ctx, ModelKey, model)
}

// GetTraceID retrieves the trace ID from the context
func GetTraceID(ctx context.Context) string {
	if traceID, ok := ctx.Value(TraceIDKey).(string); ok {
		return traceID
	}
	return ""
}

// GetRunID retrieves the run ID from the context
func GetRunID(ctx context.Context) string {
	if runID, ok := ctx.Value(RunIDKey).(string); ok {
		return runID
	}
	return ""
}

// GetRequestID retrieves the request ID from the context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// GetModel retrieves the model identifier from the context
func GetModel(ctx context.Context) string {
	if model, ok := ctx.Value(ModelKey).(string); ok {
		return model
	}
	return ""
}

// FromContext extracts all tracing information from the context
func FromContext(ctx context.Context) *TraceContext {
	return &TraceContext{
		TraceID:   GetTraceID(ctx),
		RunID:     GetRunID(ctx),
		RequestID: GetRequestID(ctx),
		Model:     GetModel(ctx),
	}
}

// NewRequestContext creates a new context for an inbound request with fresh trace and request IDs.
func NewRequestContext(ctx context.Context) context.Context {
	ctx = WithTraceID(ctx, NewTraceID())
	return WithRequestID(ctx, NewRequestID())
}

// NewAgentRunContext creates a new context for an agent run with a new run ID
func NewAgentRunContext(ctx context.Context, model string) context.Context {
	ctx = WithRunID(ctx, NewRunID())
	return WithModel(ctx, model)
}
