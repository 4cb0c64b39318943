package tracing

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"
)

const (
	// HeaderRequestID carries the request ID across HTTP hops.
	HeaderRequestID = "X-Request-ID"
	// HeaderTraceID carries the trace ID across HTTP hops.
	HeaderTraceID = "X-Trace-ID"
)

// PropagateToLogger adds tracing context to a zerolog logger
func PropagateToLogger(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	tc := FromContext(ctx)

	if tc.TraceID != "" {
		logger = logger.With().Str("trace_id", tc.TraceID).Logger()
	}
	if tc.RequestID != "" {
		logger = logger.With().Str("request_id", tc.RequestID).Logger()
	}
	if tc.RunID != "" {
		logger = logger.With().Str("run_id", tc.RunID).Logger()
	}
	if tc.Model != "" {
		logger = logger.With().Str("model", tc.Model).Logger()
	}

	return logger
}

// LoggerFromContext creates a logger with tracing context from the given context
func LoggerFromContext(ctx context.Context, baseLogger zerolog.Logger) zerolog.Logger {
	return PropagateToLogger(ctx, baseLogger)
}

// FromRequest builds a request context, reusing inbound IDs when the caller supplied them.
func FromRequest(r *http.Request) context.Context {
	ctx := r.Context()

	traceID := r.Header.Get(HeaderTraceID)
	if traceID == "" {
		traceID = NewTraceID()
	}
	requestID := r.Header.Get(HeaderRequestID)
	if requestID == "" {
		requestID = NewRequestID()
	}

	ctx = WithTraceID(ctx, traceID)
	return WithRequestID(ctx, requestID)
}

// InjectHeaders echoes the tracing IDs onto a response.
func InjectHeaders(ctx context.Context, h http.Header) {
	if id := GetRequestID(ctx); id != "" {
		h.Set(HeaderRequestID, id)
	}
	if id := GetTraceID(ctx); id != "" {
		h.Set(HeaderTraceID, id)
	}
}
