package session

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Requester type constants define who sent a message.
const (
	RequesterHuman       = "human"
	RequesterAgent       = "agent"
	RequesterApplication = "application"
)

// Requester identifies the originator of a user message.
type Requester struct {
	ID   string `json:"id"`
	Type string `json:"type"` // "human" | "agent" | "application"
}

// CostMetrics is the accounting unit attached to every turn and
// aggregated per session. All token counts are non-negative;
// SavingsUSD is derived purely from token counts and the pricing table.
type CostMetrics struct {
	InputTokens      int64   `json:"inputTokens"`
	OutputTokens     int64   `json:"outputTokens"`
	CacheWriteTokens int64   `json:"cacheWriteTokens"`
	CacheReadTokens  int64   `json:"cacheReadTokens"`
	CostUSD          float64 `json:"costUSD"`
	SavingsUSD       float64 `json:"savingsUSD"`
}

// Add folds other into m field-wise.
func (m *CostMetrics) Add(other CostMetrics) {
	m.InputTokens += other.InputTokens
	m.OutputTokens += other.OutputTokens
	m.CacheWriteTokens += other.CacheWriteTokens
	m.CacheReadTokens += other.CacheReadTokens
	m.CostUSD += other.CostUSD
	m.SavingsUSD += other.SavingsUSD
}

// StepKind discriminates the Step variants.
type StepKind string

// Step variants produced during a turn.
const (
	StepContent    StepKind = "content"
	StepToolCall   StepKind = "tool_call"
	StepToolResult StepKind = "tool_result"
)

// Step is one atomic unit within a turn: a content chunk, a tool call,
// or a tool result. Exactly one variant's fields are populated,
// discriminated by Kind.
type Step struct {
	Kind StepKind `json:"kind"`

	// Content variant.
	Text string `json:"text,omitempty"`

	// Tool call / tool result variants.
	ToolCallID string          `json:"toolCallId,omitempty"`
	ToolName   string          `json:"toolName,omitempty"`
	ToolInput  json.RawMessage `json:"toolInput,omitempty"`
	ToolOutput json.RawMessage `json:"toolOutput,omitempty"`
	ToolError  string          `json:"toolError,omitempty"`
}

// ContentStep builds a content-emission step.
func ContentStep(text string) Step {
	return Step{Kind: StepContent, Text: text}
}

// ToolCallStep builds a tool-invocation step.
func ToolCallStep(callID, name string, input json.RawMessage) Step {
	return Step{Kind: StepToolCall, ToolCallID: callID, ToolName: name, ToolInput: input}
}

// ToolResultStep builds a successful tool-result step.
func ToolResultStep(callID, name string, output json.RawMessage) Step {
	return Step{Kind: StepToolResult, ToolCallID: callID, ToolName: name, ToolOutput: output}
}

// ToolErrorStep builds a failed tool-result step.
func ToolErrorStep(callID, name, errMsg string) Step {
	return Step{Kind: StepToolResult, ToolCallID: callID, ToolName: name, ToolError: errMsg}
}

// TurnStatus is the terminal state of a turn.
type TurnStatus string

// Terminal turn states. A turn only becomes visible in history once it
// carries one of these.
const (
	TurnCompleted TurnStatus = "completed"
	TurnFailed    TurnStatus = "failed"
)

// FailReason classifies why a turn ended in TurnFailed.
type FailReason string

// Failure reasons surfaced in history entries and error events.
const (
	FailModelError         FailReason = "model_error"
	FailToolLoopExceeded   FailReason = "tool_loop_exceeded"
	FailClientDisconnected FailReason = "client_disconnected"
)

// Turn is one user message's full round trip through the model/tool
// loop. It is constructed incrementally by the orchestrator and is
// immutable once appended to a session.
type Turn struct {
	UserMessage string     `json:"userMessage"`
	Requester   Requester  `json:"requester"`
	Steps       []Step     `json:"steps"`
	FinalText   string     `json:"finalText"`
	Usage       CostMetrics `json:"usage"`
	Status      TurnStatus `json:"status"`
	FailReason  FailReason `json:"failReason,omitempty"`
	StartedAt   time.Time  `json:"startedAt"`
	EndedAt     time.Time  `json:"endedAt"`
}

// Session is the unit of conversational continuity. It is exclusively
// owned by the Store; callers receive copies.
type Session struct {
	ID             uuid.UUID   `json:"id"`
	CreatedAt      time.Time   `json:"createdAt"`
	LastActivityAt time.Time   `json:"lastActivityAt"`
	Turns          []Turn      `json:"turns"`
	Totals         CostMetrics `json:"totals"`
}

// Summary is the listing view of a session.
type Summary struct {
	ID             uuid.UUID `json:"id"`
	CreatedAt      time.Time `json:"createdAt"`
	LastActivityAt time.Time `json:"lastActivityAt"`
	TurnCount      int       `json:"turnCount"`
}

// Stats is the derived per-session statistics view.
type Stats struct {
	TurnCount     int         `json:"turnCount"`
	Totals        CostMetrics `json:"totals"`
	CacheHitRatio float64     `json:"cacheHitRatio"`
	Age           time.Duration `json:"age"`
}

// cacheHitRatio is the share of prompt tokens served from cache:
// cacheRead / (cacheRead + fresh input). Zero when no prompt tokens.
func cacheHitRatio(m CostMetrics) float64 {
	total := m.CacheReadTokens + m.InputTokens
	if total == 0 {
		return 0
	}
	return float64(m.CacheReadTokens) / float64(total)
}
