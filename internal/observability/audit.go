package observability

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// AuditEvent represents a structured event for the audit log
type AuditEvent struct {
	Type      string                 `json:"event_type"`
	Timestamp time.Time              `json:"timestamp"`
	Actor     string                 `json:"actor,omitempty"` // request ID
	Action    string                 `json:"action"`          // e.g. "query:executed", "query:rejected"
	Status    string                 `json:"status"`          // "success", "failure", "rejected"
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	TraceID   string                 `json:"trace_id,omitempty"`
}

// AuditLogger records every statement the assistant sends to the database.
type AuditLogger struct {
	logger zerolog.Logger
	mu     sync.Mutex
	file   *os.File
}

var (
	auditMu   sync.RWMutex
	auditInst *AuditLogger
)

// GetAuditLogger returns the global audit logger, defaulting to stderr.
func GetAuditLogger() *AuditLogger {
	auditMu.RLock()
	inst := auditInst
	auditMu.RUnlock()
	if inst != nil {
		return inst
	}

	auditMu.Lock()
	defer auditMu.Unlock()
	if auditInst == nil {
		auditInst = &AuditLogger{
			logger: zerolog.New(os.Stderr).With().Timestamp().Logger(),
		}
	}
	return auditInst
}

// InitAuditLogger points the global audit logger at a file.
func InitAuditLogger(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}

	SetAuditLogger(zerolog.New(file).With().Timestamp().Logger(), file)
	return nil
}

// SetAuditLogger replaces the global audit logger. file may be nil.
func SetAuditLogger(logger zerolog.Logger, file *os.File) {
	auditMu.Lock()
	defer auditMu.Unlock()
	if auditInst != nil && auditInst.file != nil {
		_ = auditInst.file.Close()
	}
	auditInst = &AuditLogger{logger: logger, file: file}
}

// Record emits an audit event to the log file and to the active span, if any.
func (a *AuditLogger) Record(ctx context.Context, event AuditEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		event.TraceID = span.SpanContext().TraceID().String()

		span.AddEvent(event.Action, trace.WithAttributes(
			attribute.String("audit.type", event.Type),
			attribute.String("audit.status", event.Status),
			attribute.String("audit.actor", event.Actor),
		))
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	entry := a.logger.Log().
		Str("type", event.Type).
		Str("actor", event.Actor).
		Str("action", event.Action).
		Str("status", event.Status).
		Str("trace_id", event.TraceID)

	if event.Metadata != nil {
		entry.Interface("metadata", event.Metadata)
	}

	entry.Msg("")
}

// Close closes the audit logger's file handle
func (a *AuditLogger) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.file == nil {
		return nil
	}
	err := a.file.Close()
	a.file = nil
	a.logger = zerolog.Nop()
	return err
}

// RecordQueryAudit logs one executed or refused statement.
func RecordQueryAudit(ctx context.Context, actor, status, query string, metadata map[string]interface{}) {
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	metadata["query"] = query

	action := "query:executed"
	if status == "rejected" {
		action = "query:rejected"
	}

	GetAuditLogger().Record(ctx, AuditEvent{
		Type:     "query",
		Actor:    actor,
		Action:   action,
		Status:   status,
		Metadata: metadata,
	})
}

// RecordRunAudit logs the outcome of one agent run.
func RecordRunAudit(ctx context.Context, actor, model, outcome string, steps int) {
	status := "success"
	if outcome == "error" {
		status = "failure"
	}
	GetAuditLogger().Record(ctx, AuditEvent{
		Type:   "agent",
		Actor:  actor,
		Action: "run:" + outcome,
		Status: status,
		Metadata: map[string]interface{}{
			"model": model,
			"steps": steps,
		},
	})
}
