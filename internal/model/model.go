// Package model abstracts the LLM backend behind a small interface so the
// turn orchestrator can be tested without a live provider. The production
// implementation wraps Genkit with rate limiting, retry, and a circuit
// breaker; tests substitute a scripted backend.
package model

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/firebase/genkit/go/ai"
)

// Sentinel errors returned by backends. Callers classify failures with
// errors.Is; everything else is an opaque provider error.
var (
	// ErrModelUnavailable wraps provider errors that survived the retry
	// budget.
	ErrModelUnavailable = errors.New("model backend unavailable")
)

// Usage reports token consumption for a single model call. Cache write
// tokens are zero for providers that do not report them; the cost layer
// still prices them so scripted backends can exercise that path.
type Usage struct {
	InputTokens      int64
	OutputTokens     int64
	CacheWriteTokens int64
	CacheReadTokens  int64
}

// Add accumulates u2 into u.
func (u *Usage) Add(u2 Usage) {
	u.InputTokens += u2.InputTokens
	u.OutputTokens += u2.OutputTokens
	u.CacheWriteTokens += u2.CacheWriteTokens
	u.CacheReadTokens += u2.CacheReadTokens
}

// ToolCall is a tool invocation requested by the model. Input is the raw
// JSON argument object as produced by the provider.
type ToolCall struct {
	ID    string
	Name  string
	Input json.RawMessage
}

// Result is the outcome of one model call. Message is the raw model
// message and must be appended to the conversation before resubmitting
// tool results, so the provider sees its own tool requests in context.
type Result struct {
	Text      string
	ToolCalls []ToolCall
	Usage     Usage
	Message   *ai.Message
}

// StreamCallback receives incremental text deltas during generation.
// Returning an error aborts the call.
type StreamCallback func(ctx context.Context, text string) error

// Backend performs a single model call over the given conversation.
// When cb is non-nil, text deltas are streamed through it before the
// final Result is returned. Implementations must honor ctx cancellation
// at every blocking point.
type Backend interface {
	Generate(ctx context.Context, msgs []*ai.Message, cb StreamCallback) (*Result, error)
}

// ToolResponseMessage builds the tool-role message that carries one tool
// result back to the model. Output may be any JSON-marshalable value.
func ToolResponseMessage(callID, name string, output any) *ai.Message {
	return ai.NewMessage(ai.RoleTool, nil, ai.NewToolResponsePart(&ai.ToolResponse{
		Ref:    callID,
		Name:   name,
		Output: output,
	}))
}
