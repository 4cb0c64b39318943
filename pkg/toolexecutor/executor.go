package toolexecutor

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/harun/sqlask/internal/observability"
	"github.com/harun/sqlask/internal/tracing"
	"github.com/harun/sqlask/pkg/sanitizer"
	"github.com/harun/sqlask/pkg/store"
	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"
	"go.opentelemetry.io/otel/attribute"
)

const tracerName = "github.com/harun/sqlask/pkg/toolexecutor"

// Store is the slice of the database the tools need.
type Store interface {
	ListTables(ctx context.Context) ([]string, error)
	Columns(ctx context.Context, table string) ([]store.Column, error)
	Query(ctx context.Context, query string, maxRows int) (*store.ResultSet, error)
}

// Config holds executor limits.
type Config struct {
	DefaultRowLimit int
	MaxRowLimit     int
	Timeout         time.Duration
	MaxResultBytes  int    // zero disables payload truncation
	Actor           string // recorded in the audit log
}

// DefaultConfig returns default executor limits.
func DefaultConfig() Config {
	return Config{
		DefaultRowLimit: sanitizer.DefaultRowLimit,
		MaxRowLimit:     200,
		Timeout:         30 * time.Second,
		Actor:           "agent",
	}
}

// Executor runs tool calls against a Store.
type Executor struct {
	store   Store
	cfg     Config
	defs    []ToolDefinition
	schemas map[Kind]*gojsonschema.Schema
	logger  zerolog.Logger
}

// New compiles the tool schemas and returns an Executor.
func New(st Store, cfg Config, logger zerolog.Logger) (*Executor, error) {
	observability.EnsureRegistered()

	defaults := DefaultConfig()
	if cfg.DefaultRowLimit <= 0 {
		cfg.DefaultRowLimit = defaults.DefaultRowLimit
	}
	if cfg.MaxRowLimit <= 0 {
		cfg.MaxRowLimit = defaults.MaxRowLimit
	}
	if cfg.DefaultRowLimit > cfg.MaxRowLimit {
		cfg.DefaultRowLimit = cfg.MaxRowLimit
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.Actor == "" {
		cfg.Actor = defaults.Actor
	}

	e := &Executor{
		store:   st,
		cfg:     cfg,
		defs:    Definitions(cfg.MaxRowLimit),
		schemas: make(map[Kind]*gojsonschema.Schema),
		logger:  logger.With().Str("component", "toolexecutor").Logger(),
	}

	for _, def := range e.defs {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(def.JSONSchema()))
		if err != nil {
			return nil, fmt.Errorf("invalid schema for tool %s: %w", def.Name, err)
		}
		e.schemas[def.Kind] = schema
	}

	return e, nil
}

// Definitions returns the descriptors advertised to the model.
func (e *Executor) Definitions() []ToolDefinition {
	out := make([]ToolDefinition, len(e.defs))
	copy(out, e.defs)
	return out
}

// Invoke runs the named tool and returns its JSON payload. It never fails:
// unknown tools, invalid arguments, rejected queries and store faults all
// come back as {"error": "..."}.
func (e *Executor) Invoke(ctx context.Context, name string, args map[string]interface{}) (payload string) {
	start := time.Now()
	logger := tracing.LoggerFromContext(ctx, e.logger)

	kind, ok := ParseKind(name)
	if !ok {
		logger.Warn().Str("tool", name).Msg("Unknown tool requested")
		observability.RecordToolExecution(name, time.Since(start), false)
		return errorPayload("Unknown tool " + name)
	}

	ctx, span := tracing.StartSpan(ctx, tracerName, "tool."+name, attribute.String("tool", name))
	var err error
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool %s panicked: %v", name, r)
			logger.Error().Str("tool", name).Interface("panic", r).Msg("Tool handler panicked")
			payload = errorPayload(err.Error())
		}
		tracing.EndSpan(span, err)
		observability.RecordToolExecution(name, time.Since(start), err == nil)
	}()

	if args == nil {
		args = map[string]interface{}{}
	}
	args = e.normalizeArgs(kind, args)

	if err = e.validate(kind, args); err != nil {
		logger.Warn().Str("tool", name).Err(err).Msg("Tool arguments rejected")
		return errorPayload(err.Error())
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	var result interface{}
	switch kind {
	case ListTables:
		result, err = e.listTables(timeoutCtx)
	case GetSchema:
		result, err = e.getSchema(timeoutCtx, stringSlice(args["tables"]))
	case RunQuery:
		result, err = e.runQuery(timeoutCtx, args["query"].(string), limitArg(args["limit"], e.cfg.DefaultRowLimit))
	}

	if err != nil {
		logger.Warn().Str("tool", name).Err(err).Dur("duration", time.Since(start)).Msg("Tool execution failed")
		return errorPayload(err.Error())
	}

	data, err := json.Marshal(result)
	if err != nil {
		return errorPayload("failed to encode result: " + err.Error())
	}

	logger.Debug().
		Str("tool", name).
		Dur("duration", time.Since(start)).
		Int("bytes", len(data)).
		Msg("Tool execution completed")

	return string(data)
}

// normalizeArgs fills defaults and clamps the row limit into range so that
// a sloppy but meaningful call still runs.
func (e *Executor) normalizeArgs(kind Kind, args map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(args))
	for k, v := range args {
		out[k] = v
	}

	for _, def := range e.defs {
		if def.Kind != kind {
			continue
		}
		for _, param := range def.Parameters {
			if _, present := out[param.Name]; !present && param.Default != nil {
				out[param.Name] = param.Default
			}
		}
	}

	if kind == RunQuery {
		if v, present := out["limit"]; present {
			if n, isNum := toFloat(v); isNum {
				switch {
				case n <= 0:
					delete(out, "limit")
				case n > float64(e.cfg.MaxRowLimit):
					out["limit"] = e.cfg.MaxRowLimit
				}
			} else if v == nil {
				delete(out, "limit")
			}
		}
	}

	return out
}

func (e *Executor) validate(kind Kind, args map[string]interface{}) error {
	schema := e.schemas[kind]
	if schema == nil {
		return nil
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}

	if !result.Valid() {
		errors := []string{}
		for _, err := range result.Errors() {
			errors = append(errors, err.String())
		}
		return fmt.Errorf("invalid arguments: %v", errors)
	}

	return nil
}

func (e *Executor) listTables(ctx context.Context) ([]string, error) {
	tables, err := e.store.ListTables(ctx)
	if err != nil {
		return nil, err
	}
	sort.Strings(tables)
	return tables, nil
}

func (e *Executor) getSchema(ctx context.Context, tables []string) (map[string][]store.Column, error) {
	result := make(map[string][]store.Column, len(tables))
	for _, table := range tables {
		cols, err := e.store.Columns(ctx, table)
		if err != nil {
			return nil, err
		}
		if len(cols) == 0 {
			continue
		}
		result[table] = cols
	}
	return result, nil
}

func (e *Executor) runQuery(ctx context.Context, raw string, limit int) (interface{}, error) {
	sanitized, err := sanitizer.Sanitize(raw, limit)
	if err != nil {
		observability.RecordQueryRejected()
		observability.RecordQueryAudit(ctx, e.cfg.Actor, "rejected", raw, map[string]interface{}{
			"reason": err.Error(),
		})
		return nil, err
	}

	rs, err := e.store.Query(ctx, sanitized, limit)
	if err != nil {
		observability.RecordQueryAudit(ctx, e.cfg.Actor, "failure", sanitized, map[string]interface{}{
			"error": err.Error(),
		})
		return nil, err
	}

	observability.RecordQueryAudit(ctx, e.cfg.Actor, "success", sanitized, map[string]interface{}{
		"rows":  len(rs.Rows),
		"limit": limit,
	})

	return e.fitResult(rs), nil
}

type truncatedResult struct {
	Columns   []string        `json:"columns"`
	Rows      [][]interface{} `json:"rows"`
	Truncated bool            `json:"truncated"`
}

// fitResult drops trailing rows until the encoded payload fits MaxResultBytes.
// Results pass through untouched when no byte budget is configured.
func (e *Executor) fitResult(rs *store.ResultSet) interface{} {
	if e.cfg.MaxResultBytes <= 0 {
		return rs
	}

	data, err := json.Marshal(rs)
	if err == nil && len(data) <= e.cfg.MaxResultBytes {
		return rs
	}

	rows := rs.Rows
	lo, hi := 0, len(rows)
	// Largest prefix that still fits.
	for lo < hi {
		mid := (lo + hi + 1) / 2
		candidate, err := json.Marshal(truncatedResult{Columns: rs.Columns, Rows: rows[:mid], Truncated: true})
		if err == nil && len(candidate) <= e.cfg.MaxResultBytes {
			lo = mid
		} else {
			hi = mid - 1
		}
	}

	e.logger.Warn().
		Int("rows", len(rows)).
		Int("kept", lo).
		Int("max_bytes", e.cfg.MaxResultBytes).
		Msg("Query result truncated")

	return truncatedResult{Columns: rs.Columns, Rows: rows[:lo], Truncated: true}
}

func errorPayload(msg string) string {
	data, _ := json.Marshal(map[string]string{"error": msg})
	return string(data)
}

func stringSlice(v interface{}) []string {
	switch val := v.(type) {
	case []string:
		return val
	case []interface{}:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func limitArg(v interface{}, fallback int) int {
	if n, ok := toFloat(v); ok && n >= 1 && n <= math.MaxInt32 {
		return int(n)
	}
	return fallback
}
