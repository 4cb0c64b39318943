package agent

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/harun/sqlask/internal/observability"
	"github.com/harun/sqlask/internal/tracing"
	"github.com/harun/sqlask/pkg/toolexecutor"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// Defaults applied when Config leaves a field empty.
const (
	DefaultModel     = "mistralai/mistral-7b-instruct:free"
	DefaultStepLimit = 5
	DefaultMaxSteps  = 20
)

const tracerName = "github.com/harun/sqlask/pkg/agent"

// Gateway resolves a model identifier to a provider.
type Gateway interface {
	ForModel(model string) (LLMProvider, error)
}

// ToolInvoker executes tool calls and describes the available tools.
type ToolInvoker interface {
	Invoke(ctx context.Context, name string, args map[string]interface{}) string
	Definitions() []toolexecutor.ToolDefinition
}

// Config holds runner configuration
type Config struct {
	Gateway      Gateway
	Tools        ToolInvoker
	Prompt       PromptSource
	Logger       zerolog.Logger
	DefaultModel string
	StepLimit    int // used when Run gets a non-positive limit
	MaxStepLimit int // ceiling for caller-provided limits
	Temperature  float64
	MaxTokens    int
	Actor        string // recorded in the audit log
}

// Runner drives the agent loop. It holds no per-run state and is safe for
// concurrent use.
type Runner struct {
	gateway      Gateway
	tools        ToolInvoker
	toolSpecs    []ToolSpec
	prompt       PromptSource
	logger       zerolog.Logger
	defaultModel string
	stepLimit    int
	maxStepLimit int
	temperature  float64
	maxTokens    int
	actor        string
}

// NewRunner creates a new agent runner
func NewRunner(cfg Config) (*Runner, error) {
	observability.EnsureRegistered()

	if cfg.Gateway == nil {
		return nil, errors.New("gateway is required")
	}
	if cfg.Tools == nil {
		return nil, errors.New("tool invoker is required")
	}

	r := &Runner{
		gateway:      cfg.Gateway,
		tools:        cfg.Tools,
		prompt:       cfg.Prompt,
		logger:       cfg.Logger.With().Str("component", "agent").Logger(),
		defaultModel: cfg.DefaultModel,
		stepLimit:    cfg.StepLimit,
		maxStepLimit: cfg.MaxStepLimit,
		temperature:  cfg.Temperature,
		maxTokens:    cfg.MaxTokens,
		actor:        cfg.Actor,
	}
	if r.prompt == nil {
		r.prompt = StaticPrompt(DefaultSystemPrompt)
	}
	if r.defaultModel == "" {
		r.defaultModel = DefaultModel
	}
	if r.stepLimit <= 0 {
		r.stepLimit = DefaultStepLimit
	}
	if r.maxStepLimit <= 0 {
		r.maxStepLimit = DefaultMaxSteps
	}
	if r.maxStepLimit < r.stepLimit {
		r.maxStepLimit = r.stepLimit
	}
	if r.actor == "" {
		r.actor = "agent"
	}

	for _, def := range cfg.Tools.Definitions() {
		r.toolSpecs = append(r.toolSpecs, ToolSpec{
			Name:        def.Name,
			Description: def.Description,
			Parameters:  def.JSONSchema(),
		})
	}

	return r, nil
}

// DefaultModel returns the model used when Run gets an empty identifier.
func (r *Runner) DefaultModel() string {
	return r.defaultModel
}

// EventType names a step event.
type EventType string

const (
	EventToolCall   EventType = "tool_call"
	EventToolResult EventType = "tool_result"
	EventAnswer     EventType = "answer"
	EventFallback   EventType = "fallback"
)

// Event describes progress inside a run.
type Event struct {
	Type     EventType `json:"type"`
	Step     int       `json:"step"`
	ToolCall *ToolCall `json:"tool_call,omitempty"`
	Result   string    `json:"result,omitempty"`
	Answer   string    `json:"answer,omitempty"`
}

// Observer receives events synchronously. It cannot influence the run.
type Observer func(Event)

// RunOption customizes a single run.
type RunOption func(*runOptions)

type runOptions struct {
	observer Observer
}

// WithObserver registers obs for the run.
func WithObserver(obs Observer) RunOption {
	return func(o *runOptions) { o.observer = obs }
}

// ObserverFromOptions resolves the observer opts register, or nil. Alternate
// runner implementations use it to honor WithObserver.
func ObserverFromOptions(opts ...RunOption) Observer {
	var o runOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o.observer
}

// Run answers query with model, calling the model at most stepLimit times.
// A non-positive stepLimit uses the configured default and an empty model uses
// the default model. The only errors are ErrEmptyQuery and *GatewayError
// (possibly wrapping a context error).
func (r *Runner) Run(ctx context.Context, query, model string, stepLimit int, opts ...RunOption) (result Result, runErr error) {
	if ctx == nil {
		ctx = context.Background()
	}

	observer := ObserverFromOptions(opts...)
	emit := func(ev Event) {
		if observer != nil {
			observer(ev)
		}
	}

	if strings.TrimSpace(query) == "" {
		return Result{}, ErrEmptyQuery
	}
	if model == "" {
		model = r.defaultModel
	}
	if stepLimit <= 0 {
		stepLimit = r.stepLimit
	}
	if stepLimit > r.maxStepLimit {
		stepLimit = r.maxStepLimit
	}

	ctx = tracing.NewAgentRunContext(ctx, model)
	ctx, span := tracing.StartSpan(ctx, tracerName, "agent.run",
		attribute.String("model", model),
		attribute.Int("step_limit", stepLimit),
	)
	logger := tracing.LoggerFromContext(ctx, r.logger)

	start := time.Now()
	outcome := "error"

	defer func() {
		duration := time.Since(start)
		result.Metadata = Metadata{Model: model, DurationSeconds: roundSeconds(duration)}
		span.SetAttributes(
			attribute.String("outcome", outcome),
			attribute.Int("steps", result.Steps),
			attribute.Int("tool_calls", result.ToolCalls),
		)
		tracing.EndSpan(span, runErr)
		observability.RecordAgentRun(model, outcome, duration, result.Steps)
		observability.RecordRunAudit(ctx, r.actor, model, outcome, result.Steps)
	}()

	provider, err := r.gateway.ForModel(model)
	if err != nil {
		runErr = err
		logger.Error().Err(err).Msg("No gateway for model")
		return result, runErr
	}

	transcript := NewTranscript(r.prompt.Prompt(), query)

	logger.Info().
		Str("provider", provider.Provider()).
		Int("step_limit", stepLimit).
		Msg("Agent run started")

	for step := 1; step <= stepLimit; step++ {
		result.Steps = step

		response, err := r.callGateway(ctx, provider, model, transcript, step)
		if err != nil {
			runErr = err
			logger.Error().Err(err).Int("step", step).Msg("Gateway call failed")
			return result, runErr
		}

		if len(response.ToolCalls) == 0 {
			result.Answer = NormalizeAnswer(response.Content)
			outcome = "answer"
			emit(Event{Type: EventAnswer, Step: step, Answer: result.Answer})
			logger.Info().
				Int("steps", step).
				Int("tool_calls", result.ToolCalls).
				Msg("Agent run answered")
			return result, nil
		}

		if err := transcript.Append(Message{
			Role:      RoleAssistant,
			Content:   response.Content,
			ToolCalls: response.ToolCalls,
		}); err != nil {
			// Only reachable through a programming error in this loop.
			runErr = fmt.Errorf("transcript: %w", err)
			return result, runErr
		}

		for i := range response.ToolCalls {
			call := response.ToolCalls[i]
			emit(Event{Type: EventToolCall, Step: step, ToolCall: &call})

			payload := r.tools.Invoke(ctx, call.Name, call.ParsedArguments())
			result.ToolCalls++

			logger.Debug().
				Int("step", step).
				Str("tool", call.Name).
				Str("call_id", call.ID).
				Int("bytes", len(payload)).
				Msg("Tool call finished")

			if err := transcript.Append(Message{
				Role:       RoleTool,
				Content:    payload,
				ToolCallID: call.ID,
			}); err != nil {
				runErr = fmt.Errorf("transcript: %w", err)
				return result, runErr
			}
			emit(Event{Type: EventToolResult, Step: step, ToolCall: &call, Result: payload})
		}
	}

	result.Answer = FallbackAnswer
	result.StepLimitReached = true
	outcome = "fallback"
	emit(Event{Type: EventFallback, Step: result.Steps, Answer: result.Answer})
	logger.Warn().Int("steps", result.Steps).Msg("Step limit reached without an answer")
	return result, nil
}

func (r *Runner) callGateway(ctx context.Context, provider LLMProvider, model string, transcript *Transcript, step int) (*LLMResponse, error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "agent.step",
		attribute.Int("step", step),
		attribute.String("provider", provider.Provider()),
	)

	start := time.Now()
	response, err := provider.Call(ctx, LLMRequest{
		Model:       model,
		Messages:    transcript.Messages(),
		Tools:       r.toolSpecs,
		Temperature: r.temperature,
		MaxTokens:   r.maxTokens,
	})

	status := "ok"
	if err != nil {
		var gwErr *GatewayError
		if !errors.As(err, &gwErr) {
			gwErr = newGatewayError(provider.Provider(), err)
			err = gwErr
		}
		status = "error"
		if gwErr.RateLimited {
			status = "rate_limited"
		}
	} else if response == nil {
		err = &GatewayError{Provider: provider.Provider(), Err: errors.New("empty response")}
		status = "error"
	} else {
		span.SetAttributes(attribute.Int("tool_calls", len(response.ToolCalls)))
	}

	observability.RecordGatewayCall(provider.Provider(), status, time.Since(start))
	tracing.EndSpan(span, err)
	return response, err
}

func roundSeconds(d time.Duration) float64 {
	return math.Round(d.Seconds()*100) / 100
}
