package tracing

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestPropagateToLogger(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	ctx := context.Background()
	ctx = WithTraceID(ctx, "trace-123")
	ctx = WithRequestID(ctx, "req-456")
	ctx = WithRunID(ctx, "run-789")

	logger := LoggerFromContext(ctx, base)
	logger.Info().Msg("hello")

	out := buf.String()
	for _, want := range []string{`"trace_id":"trace-123"`, `"request_id":"req-456"`, `"run_id":"run-789"`} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected log line to contain %s, got %s", want, out)
		}
	}
	if strings.Contains(out, `"model"`) {
		t.Errorf("Did not expect empty model field, got %s", out)
	}
}

func TestFromRequestReusesHeaders(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/chat", nil)
	req.Header.Set(HeaderTraceID, "trace-in")
	req.Header.Set(HeaderRequestID, "req-in")

	ctx := FromRequest(req)

	if GetTraceID(ctx) != "trace-in" {
		t.Errorf("Expected inbound trace ID, got %s", GetTraceID(ctx))
	}
	if GetRequestID(ctx) != "req-in" {
		t.Errorf("Expected inbound request ID, got %s", GetRequestID(ctx))
	}
}

func TestFromRequestGeneratesIDs(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	ctx := FromRequest(req)

	if GetTraceID(ctx) == "" || GetRequestID(ctx) == "" {
		t.Error("Expected generated trace and request IDs")
	}

	h := http.Header{}
	InjectHeaders(ctx, h)
	if h.Get(HeaderRequestID) != GetRequestID(ctx) {
		t.Error("Request ID not injected into headers")
	}
	if h.Get(HeaderTraceID) != GetTraceID(ctx) {
		t.Error("Trace ID not injected into headers")
	}
}
