// Package testutil provides shared test infrastructure: a scripted
// model backend, a deterministic embedder, SSE parsing helpers, and a
// PostgreSQL test container, following the pattern of net/http/httptest
// and testing/iotest.
package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/firebase/genkit/go/ai"

	"github.com/librarian-ai/librarian/internal/model"
)

// ScriptedTurn is one pre-programmed backend response. Exactly one of
// Err or the result fields is used.
type ScriptedTurn struct {
	// Chunks are streamed through the callback before the result is
	// returned. When empty, Text is streamed as a single chunk.
	Chunks []string
	Text   string
	Tools  []model.ToolCall
	Usage  model.Usage
	Err    error
}

// ScriptedBackend replays a fixed sequence of turns, one per Generate
// call. It records the conversation passed to each call so tests can
// assert on message history. Safe for concurrent use.
type ScriptedBackend struct {
	mu    sync.Mutex
	turns []ScriptedTurn
	next  int
	calls [][]*ai.Message
}

// NewScriptedBackend creates a backend that replays turns in order.
func NewScriptedBackend(turns ...ScriptedTurn) *ScriptedBackend {
	return &ScriptedBackend{turns: turns}
}

// Generate implements model.Backend.
func (b *ScriptedBackend) Generate(ctx context.Context, msgs []*ai.Message, cb model.StreamCallback) (*model.Result, error) {
	b.mu.Lock()
	if b.next >= len(b.turns) {
		b.mu.Unlock()
		return nil, fmt.Errorf("scripted backend exhausted after %d calls", len(b.turns))
	}
	turn := b.turns[b.next]
	b.next++
	b.calls = append(b.calls, msgs)
	b.mu.Unlock()

	if turn.Err != nil {
		return nil, turn.Err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	chunks := turn.Chunks
	if len(chunks) == 0 && turn.Text != "" {
		chunks = []string{turn.Text}
	}
	if cb != nil {
		for _, chunk := range chunks {
			if err := cb(ctx, chunk); err != nil {
				return nil, err
			}
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
	}

	msg := &ai.Message{Role: ai.RoleModel}
	for _, tc := range turn.Tools {
		var input any
		_ = json.Unmarshal(tc.Input, &input)
		msg.Content = append(msg.Content, &ai.Part{
			Kind: ai.PartToolRequest,
			ToolRequest: &ai.ToolRequest{
				Ref:   tc.ID,
				Name:  tc.Name,
				Input: input,
			},
		})
	}
	if turn.Text != "" {
		msg.Content = append(msg.Content, ai.NewTextPart(turn.Text))
	}

	return &model.Result{
		Text:      turn.Text,
		ToolCalls: turn.Tools,
		Usage:     turn.Usage,
		Message:   msg,
	}, nil
}

// Calls returns the conversations seen so far, one per Generate call.
func (b *ScriptedBackend) Calls() [][]*ai.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([][]*ai.Message, len(b.calls))
	copy(out, b.calls)
	return out
}

// Remaining reports how many scripted turns are unused.
func (b *ScriptedBackend) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.turns) - b.next
}
