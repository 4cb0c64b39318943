package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

const (
	// FallbackAnswer is returned when the step limit runs out.
	FallbackAnswer = "Final Answer: I could not complete the request within the step limit. Please try again."
	// EmptyAnswer replaces an empty terminal response.
	EmptyAnswer = "Final Answer: (no content)"

	finalPrefix = "Final Answer: "
)

// ErrEmptyQuery is returned by Run for a blank question.
var ErrEmptyQuery = errors.New("query must not be empty")

// Message is one entry of a transcript.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall is a tool invocation requested by the model. Arguments is the raw
// JSON text the gateway returned.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ParsedArguments decodes Arguments. Empty or malformed input yields an empty map.
func (tc ToolCall) ParsedArguments() map[string]interface{} {
	args := map[string]interface{}{}
	if strings.TrimSpace(tc.Arguments) == "" {
		return args
	}
	if err := json.Unmarshal([]byte(tc.Arguments), &args); err != nil || args == nil {
		return map[string]interface{}{}
	}
	return args
}

// TokenUsage tracks token consumption
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Transcript is the append-only message log of a single run.
type Transcript struct {
	messages []Message
	pending  []string // call IDs still waiting for a tool message
}

// NewTranscript starts a transcript with the system instruction and the user query.
func NewTranscript(systemPrompt, query string) *Transcript {
	return &Transcript{
		messages: []Message{
			{Role: RoleSystem, Content: systemPrompt},
			{Role: RoleUser, Content: query},
		},
	}
}

// Append adds msg to the end of the transcript. Tool messages must answer the
// oldest unanswered call of the preceding assistant message, and no other
// message may be added while calls are unanswered.
func (t *Transcript) Append(msg Message) error {
	switch msg.Role {
	case RoleTool:
		if len(t.pending) == 0 {
			return fmt.Errorf("tool message %q has no pending call", msg.ToolCallID)
		}
		if msg.ToolCallID != t.pending[0] {
			return fmt.Errorf("tool message %q out of order, expected %q", msg.ToolCallID, t.pending[0])
		}
		t.pending = t.pending[1:]
	case RoleAssistant, RoleUser, RoleSystem:
		if len(t.pending) > 0 {
			return fmt.Errorf("%d tool calls still unanswered", len(t.pending))
		}
		if msg.Role == RoleAssistant {
			for _, tc := range msg.ToolCalls {
				t.pending = append(t.pending, tc.ID)
			}
		}
	default:
		return fmt.Errorf("unknown role %q", msg.Role)
	}

	t.messages = append(t.messages, msg)
	return nil
}

// Messages returns a copy of the transcript.
func (t *Transcript) Messages() []Message {
	out := make([]Message, len(t.messages))
	copy(out, t.messages)
	return out
}

// Len returns the number of messages.
func (t *Transcript) Len() int {
	return len(t.messages)
}

// Metadata accompanies every answer.
type Metadata struct {
	Model           string  `json:"model"`
	DurationSeconds float64 `json:"duration"`
}

// Result is the outcome of a run.
type Result struct {
	Answer           string   `json:"response"`
	Metadata         Metadata `json:"metadata"`
	Steps            int      `json:"-"`
	ToolCalls        int      `json:"-"`
	StepLimitReached bool     `json:"-"`
}

// NormalizeAnswer makes sure content carries the "Final Answer:" prefix.
func NormalizeAnswer(content string) string {
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(content)), "final answer:") {
		return content
	}
	if content == "" {
		return EmptyAnswer
	}
	return finalPrefix + content
}
