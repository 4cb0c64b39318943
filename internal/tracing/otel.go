package tracing

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// DefaultServiceName is reported as service.name when the config leaves it empty.
const DefaultServiceName = "sqlask"

// spanSetup owns the single SDK provider installed for the process.
type spanSetup struct {
	once sync.Once
	mu   sync.RWMutex
	tp   *sdktrace.TracerProvider
	err  error
}

var setup spanSetup

// InitTracerProvider installs the sqlask tracer provider as the global one.
// Only the first call does any work; later calls return its error.
func InitTracerProvider(serviceName string, sampleRatio float64) error {
	setup.once.Do(func() {
		res, err := serviceResource(serviceName)
		if err != nil {
			setup.err = err
			return
		}

		tp := sdktrace.NewTracerProvider(
			sdktrace.WithSampler(runSampler(sampleRatio)),
			sdktrace.WithResource(res),
		)

		setup.mu.Lock()
		setup.tp = tp
		setup.mu.Unlock()

		otel.SetTracerProvider(tp)
	})

	return setup.err
}

// ShutdownTracerProvider flushes pending spans. It is a no-op when tracing was never initialized.
func ShutdownTracerProvider(ctx context.Context) error {
	setup.mu.RLock()
	tp := setup.tp
	setup.mu.RUnlock()
	if tp == nil {
		return nil
	}
	return tp.Shutdown(ctx)
}

func serviceResource(serviceName string) (*resource.Resource, error) {
	if serviceName == "" {
		serviceName = DefaultServiceName
	}
	return resource.New(context.Background(), resource.WithAttributes(semconv.ServiceName(serviceName)))
}

// runSampler keeps a parent's decision so an agent run is sampled as a whole.
// Ratios outside (0, 1] sample everything.
func runSampler(ratio float64) sdktrace.Sampler {
	if ratio <= 0 || ratio >= 1 {
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}

// StartSpan opens a span on the named tracer. When the context has no trace ID
// yet, the span's ID becomes the one logs and audit entries carry.
func StartSpan(ctx context.Context, tracerName, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, spanName, trace.WithAttributes(attrs...))

	if GetTraceID(ctx) == "" {
		if sc := span.SpanContext(); sc.IsValid() {
			ctx = WithTraceID(ctx, sc.TraceID().String())
		}
	}

	return ctx, span
}

// EndSpan records err on span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
