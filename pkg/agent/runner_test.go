package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/harun/sqlask/pkg/toolexecutor"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedProvider replays responses in order and records every request.
type scriptedProvider struct {
	mu        sync.Mutex
	responses []*LLMResponse
	errs      []error
	requests  []LLMRequest
	repeat    *LLMResponse // returned once the script is exhausted
}

func (p *scriptedProvider) Provider() string { return "fake" }

func (p *scriptedProvider) Call(ctx context.Context, req LLMRequest) (*LLMResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	i := len(p.requests)
	p.requests = append(p.requests, req)

	if i < len(p.errs) && p.errs[i] != nil {
		return nil, p.errs[i]
	}
	if i < len(p.responses) {
		return p.responses[i], nil
	}
	if p.repeat != nil {
		r := *p.repeat
		r.ToolCalls = make([]ToolCall, len(p.repeat.ToolCalls))
		for j, tc := range p.repeat.ToolCalls {
			tc.ID = fmt.Sprintf("%s-%d", tc.ID, i)
			r.ToolCalls[j] = tc
		}
		return &r, nil
	}
	return &LLMResponse{Content: "done"}, nil
}

func (p *scriptedProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

type staticGateway struct {
	provider LLMProvider
	err      error
	models   []string
}

func (g *staticGateway) ForModel(model string) (LLMProvider, error) {
	g.models = append(g.models, model)
	if g.err != nil {
		return nil, g.err
	}
	return g.provider, nil
}

type invocation struct {
	Name string
	Args map[string]interface{}
}

// recordingTools answers every call with a payload naming the tool.
type recordingTools struct {
	calls []invocation
}

func (t *recordingTools) Invoke(ctx context.Context, name string, args map[string]interface{}) string {
	t.calls = append(t.calls, invocation{Name: name, Args: args})
	if name == "boom" {
		return `{"error":"Unknown tool boom"}`
	}
	return fmt.Sprintf(`{"tool":%q}`, name)
}

func (t *recordingTools) Definitions() []toolexecutor.ToolDefinition {
	return toolexecutor.Definitions(200)
}

func newTestRunner(t *testing.T, provider LLMProvider) (*Runner, *recordingTools) {
	t.Helper()
	tools := &recordingTools{}
	r, err := NewRunner(Config{
		Gateway: &staticGateway{provider: provider},
		Tools:   tools,
		Prompt:  StaticPrompt("system instruction"),
		Logger:  zerolog.Nop(),
	})
	require.NoError(t, err)
	return r, tools
}

func TestNewRunner(t *testing.T) {
	t.Run("should require a gateway", func(t *testing.T) {
		_, err := NewRunner(Config{Tools: &recordingTools{}})
		assert.Error(t, err)
	})

	t.Run("should require tools", func(t *testing.T) {
		_, err := NewRunner(Config{Gateway: &staticGateway{}})
		assert.Error(t, err)
	})

	t.Run("should apply defaults", func(t *testing.T) {
		r, _ := newTestRunner(t, &scriptedProvider{})
		assert.Equal(t, DefaultModel, r.DefaultModel())
		assert.Equal(t, DefaultStepLimit, r.stepLimit)
		assert.Len(t, r.toolSpecs, 3)
	})
}

func TestRunDirectAnswer(t *testing.T) {
	provider := &scriptedProvider{responses: []*LLMResponse{{Content: "There are 194 PG films."}}}
	r, tools := newTestRunner(t, provider)

	result, err := r.Run(context.Background(), "How many films are rated PG?", "gpt-4o-mini", 5)
	require.NoError(t, err)

	assert.Equal(t, 1, provider.calls())
	assert.Empty(t, tools.calls)
	assert.Equal(t, "Final Answer: There are 194 PG films.", result.Answer)
	assert.Equal(t, "gpt-4o-mini", result.Metadata.Model)
	assert.GreaterOrEqual(t, result.Metadata.DurationSeconds, 0.0)
	assert.Equal(t, 1, result.Steps)
	assert.False(t, result.StepLimitReached)

	req := provider.requests[0]
	require.Len(t, req.Messages, 2)
	assert.Equal(t, Message{Role: RoleSystem, Content: "system instruction"}, req.Messages[0])
	assert.Equal(t, Message{Role: RoleUser, Content: "How many films are rated PG?"}, req.Messages[1])
	assert.Len(t, req.Tools, 3)
	assert.Equal(t, 0.0, req.Temperature)
}

func TestRunStepLimit(t *testing.T) {
	t.Run("should return the fallback after exactly step_limit calls", func(t *testing.T) {
		provider := &scriptedProvider{repeat: &LLMResponse{
			ToolCalls: []ToolCall{{ID: "call", Name: "list_tables", Arguments: "{}"}},
		}}
		r, tools := newTestRunner(t, provider)

		result, err := r.Run(context.Background(), "loop forever", "gpt-4o-mini", 5)
		require.NoError(t, err)

		assert.Equal(t, FallbackAnswer, result.Answer)
		assert.Equal(t, "Final Answer: I could not complete the request within the step limit. Please try again.", result.Answer)
		assert.Equal(t, 5, provider.calls())
		assert.Len(t, tools.calls, 5)
		assert.True(t, result.StepLimitReached)
		assert.Equal(t, "gpt-4o-mini", result.Metadata.Model)
	})

	for _, limit := range []int{1, 2, 3, 7} {
		t.Run(fmt.Sprintf("should never exceed limit %d", limit), func(t *testing.T) {
			provider := &scriptedProvider{repeat: &LLMResponse{
				ToolCalls: []ToolCall{{ID: "c", Name: "run_sql", Arguments: `{"query":"SELECT 1"}`}},
			}}
			r, _ := newTestRunner(t, provider)

			result, err := r.Run(context.Background(), "q", "gpt-4o-mini", limit)
			require.NoError(t, err)
			assert.Equal(t, limit, provider.calls())
			assert.Equal(t, FallbackAnswer, result.Answer)
		})
	}

	t.Run("should use the default limit for non-positive values", func(t *testing.T) {
		provider := &scriptedProvider{repeat: &LLMResponse{
			ToolCalls: []ToolCall{{ID: "c", Name: "list_tables"}},
		}}
		r, _ := newTestRunner(t, provider)

		_, err := r.Run(context.Background(), "q", "", 0)
		require.NoError(t, err)
		assert.Equal(t, DefaultStepLimit, provider.calls())
	})

	t.Run("should clamp limits above the ceiling", func(t *testing.T) {
		provider := &scriptedProvider{repeat: &LLMResponse{
			ToolCalls: []ToolCall{{ID: "c", Name: "list_tables"}},
		}}
		r, _ := newTestRunner(t, provider)

		_, err := r.Run(context.Background(), "q", "", 1000)
		require.NoError(t, err)
		assert.Equal(t, DefaultMaxSteps, provider.calls())
	})
}

func TestRunToolRoundTrip(t *testing.T) {
	provider := &scriptedProvider{responses: []*LLMResponse{
		{
			Content: "Let me look.",
			ToolCalls: []ToolCall{
				{ID: "a", Name: "list_tables", Arguments: ""},
				{ID: "b", Name: "get_schema", Arguments: `{"tables":["film"]}`},
				{ID: "c", Name: "run_sql", Arguments: `{"query":`},
			},
		},
		{Content: "final answer: 1000 films"},
	}}
	r, tools := newTestRunner(t, provider)

	var events []Event
	result, err := r.Run(context.Background(), "How many films?", "gpt-4o-mini", 5, WithObserver(func(ev Event) {
		events = append(events, ev)
	}))
	require.NoError(t, err)

	t.Run("should keep an existing prefix untouched", func(t *testing.T) {
		assert.Equal(t, "final answer: 1000 films", result.Answer)
		assert.Equal(t, 2, result.Steps)
		assert.Equal(t, 3, result.ToolCalls)
	})

	t.Run("should dispatch calls in order with parsed arguments", func(t *testing.T) {
		require.Len(t, tools.calls, 3)
		assert.Equal(t, "list_tables", tools.calls[0].Name)
		assert.Equal(t, map[string]interface{}{}, tools.calls[0].Args)
		assert.Equal(t, []interface{}{"film"}, tools.calls[1].Args["tables"])
		assert.Equal(t, map[string]interface{}{}, tools.calls[2].Args)
	})

	t.Run("should answer each call 1:1 right after the assistant message", func(t *testing.T) {
		msgs := provider.requests[1].Messages
		require.Len(t, msgs, 6)

		assistant := msgs[2]
		assert.Equal(t, RoleAssistant, assistant.Role)
		assert.Equal(t, "Let me look.", assistant.Content)
		require.Len(t, assistant.ToolCalls, 3)

		for i, tc := range assistant.ToolCalls {
			tool := msgs[3+i]
			assert.Equal(t, RoleTool, tool.Role)
			assert.Equal(t, tc.ID, tool.ToolCallID)
			assert.Equal(t, fmt.Sprintf(`{"tool":%q}`, tc.Name), tool.Content)
		}
	})

	t.Run("should report every step to the observer", func(t *testing.T) {
		types := make([]EventType, 0, len(events))
		for _, ev := range events {
			types = append(types, ev.Type)
		}
		assert.Equal(t, []EventType{
			EventToolCall, EventToolResult,
			EventToolCall, EventToolResult,
			EventToolCall, EventToolResult,
			EventAnswer,
		}, types)
	})
}

func TestRunToolErrorsAreNotFatal(t *testing.T) {
	provider := &scriptedProvider{responses: []*LLMResponse{
		{ToolCalls: []ToolCall{{ID: "x", Name: "boom", Arguments: "{}"}}},
		{Content: "Sorry, that tool does not exist."},
	}}
	r, _ := newTestRunner(t, provider)

	result, err := r.Run(context.Background(), "q", "gpt-4o-mini", 5)
	require.NoError(t, err)

	assert.Equal(t, "Final Answer: Sorry, that tool does not exist.", result.Answer)
	msgs := provider.requests[1].Messages
	assert.Equal(t, `{"error":"Unknown tool boom"}`, msgs[len(msgs)-1].Content)
}

func TestRunGatewayErrors(t *testing.T) {
	t.Run("should propagate gateway failures without retrying", func(t *testing.T) {
		provider := &scriptedProvider{errs: []error{errors.New("connection reset")}}
		r, _ := newTestRunner(t, provider)

		_, err := r.Run(context.Background(), "q", "gpt-4o-mini", 5)
		require.Error(t, err)

		var gwErr *GatewayError
		require.ErrorAs(t, err, &gwErr)
		assert.Equal(t, "fake", gwErr.Provider)
		assert.False(t, IsRateLimited(err))
		assert.Equal(t, 1, provider.calls())
	})

	t.Run("should flag rate limiting", func(t *testing.T) {
		provider := &scriptedProvider{errs: []error{
			nil,
			&GatewayError{Provider: "fake", StatusCode: 429, RateLimited: true, Err: errors.New("too many requests")},
		}, responses: []*LLMResponse{
			{ToolCalls: []ToolCall{{ID: "a", Name: "list_tables"}}},
		}}
		r, _ := newTestRunner(t, provider)

		_, err := r.Run(context.Background(), "q", "gpt-4o-mini", 5)
		assert.True(t, IsRateLimited(err))
		assert.Equal(t, 2, provider.calls())
	})

	t.Run("should fail when no provider serves the model", func(t *testing.T) {
		r, err := NewRunner(Config{
			Gateway: &staticGateway{err: &GatewayError{Provider: "openai", Err: errors.New("OPENAI_API_KEY is missing")}},
			Tools:   &recordingTools{},
			Logger:  zerolog.Nop(),
		})
		require.NoError(t, err)

		_, err = r.Run(context.Background(), "q", "gpt-4o-mini", 5)
		assert.ErrorContains(t, err, "OPENAI_API_KEY is missing")
	})
}

func TestRunDefaults(t *testing.T) {
	t.Run("should reject empty queries", func(t *testing.T) {
		r, _ := newTestRunner(t, &scriptedProvider{})
		_, err := r.Run(context.Background(), "   ", "", 5)
		assert.ErrorIs(t, err, ErrEmptyQuery)
	})

	t.Run("should fall back to the default model", func(t *testing.T) {
		gw := &staticGateway{provider: &scriptedProvider{}}
		r, err := NewRunner(Config{Gateway: gw, Tools: &recordingTools{}, Logger: zerolog.Nop()})
		require.NoError(t, err)

		result, err := r.Run(context.Background(), "hi", "", 5)
		require.NoError(t, err)
		assert.Equal(t, []string{DefaultModel}, gw.models)
		assert.Equal(t, DefaultModel, result.Metadata.Model)
	})

	t.Run("should snapshot the prompt per run", func(t *testing.T) {
		provider := &scriptedProvider{}
		r, err := NewRunner(Config{Gateway: &staticGateway{provider: provider}, Tools: &recordingTools{}, Logger: zerolog.Nop()})
		require.NoError(t, err)

		_, err = r.Run(context.Background(), "hi", "", 5)
		require.NoError(t, err)
		assert.Equal(t, DefaultSystemPrompt, provider.requests[0].Messages[0].Content)
	})
}

func TestNormalizeAnswer(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"adds prefix", "42 films", "Final Answer: 42 films"},
		{"keeps prefix", "Final Answer: 42 films", "Final Answer: 42 films"},
		{"keeps prefix in any case", "FINAL ANSWER: yes", "FINAL ANSWER: yes"},
		{"keeps prefix after whitespace", "  final answer: yes", "  final answer: yes"},
		{"empty content", "", EmptyAnswer},
		{"prefix mid-text is not enough", "The Final Answer: 3", "Final Answer: The Final Answer: 3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeAnswer(tt.in))
		})
	}
}
