// Package tool is the typed tool registry shared by the turn
// orchestrator and the MCP surface. Tools are defined once with a typed
// handler; the same handler backs the Genkit tool declaration (so the
// model sees the JSON schema) and the dispatcher's execution path (so
// the orchestrator controls when tools actually run).
package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/librarian-ai/librarian/internal/log"
	"github.com/librarian-ai/librarian/internal/model"
)

// DefaultInvokeTimeout bounds a single tool invocation.
const DefaultInvokeTimeout = 30 * time.Second

type handlerFunc func(ctx context.Context, input json.RawMessage) (any, error)

// Dispatcher routes model tool calls to registered handlers with a
// per-invocation timeout. Safe for concurrent use after registration.
type Dispatcher struct {
	logger  log.Logger
	timeout time.Duration

	mu       sync.RWMutex
	handlers map[string]handlerFunc
	tools    []ai.Tool
}

// NewDispatcher creates an empty dispatcher. A non-positive timeout
// falls back to DefaultInvokeTimeout.
func NewDispatcher(logger log.Logger, timeout time.Duration) *Dispatcher {
	if logger == nil {
		logger = log.NewNop()
	}
	if timeout <= 0 {
		timeout = DefaultInvokeTimeout
	}
	return &Dispatcher{
		logger:   logger,
		timeout:  timeout,
		handlers: make(map[string]handlerFunc),
	}
}

// Define registers a typed tool with both Genkit and the dispatcher.
// The Genkit registration advertises the tool's schema to the model;
// execution always goes through Invoke.
func Define[In, Out any](d *Dispatcher, g *genkit.Genkit, name, description string, fn func(ctx context.Context, in In) (Out, error)) ai.Tool {
	t := genkit.DefineTool(g, name, description,
		func(ctx *ai.ToolContext, in In) (Out, error) {
			return fn(ctx.Context, in)
		})

	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[name] = func(ctx context.Context, input json.RawMessage) (any, error) {
		var in In
		if len(input) > 0 {
			if err := json.Unmarshal(input, &in); err != nil {
				return nil, &Error{Kind: KindInvalidInput, Tool: name, Err: err}
			}
		}
		out, err := fn(ctx, in)
		if err != nil {
			return nil, err
		}
		return out, nil
	}
	d.tools = append(d.tools, t)
	return t
}

// Tools returns the Genkit tool handles in registration order.
func (d *Dispatcher) Tools() []ai.Tool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]ai.Tool, len(d.tools))
	copy(out, d.tools)
	return out
}

// Names returns the registered tool names in registration order.
func (d *Dispatcher) Names() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.tools))
	for _, t := range d.tools {
		names = append(names, t.Name())
	}
	return names
}

// Invoke executes one tool call under the dispatcher timeout. The
// handler runs in its own goroutine so a tool that ignores its context
// cannot stall the caller; on timeout the handler keeps running to
// completion but its result is discarded. All failures come back as
// *Error with a classified kind.
func (d *Dispatcher) Invoke(ctx context.Context, call model.ToolCall) (any, error) {
	d.mu.RLock()
	handler, ok := d.handlers[call.Name]
	d.mu.RUnlock()
	if !ok {
		return nil, &Error{Kind: KindUnknownTool, Tool: call.Name, Err: fmt.Errorf("not registered")}
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	type invokeResult struct {
		out any
		err error
	}
	done := make(chan invokeResult, 1)
	go func() {
		out, err := handler(ctx, call.Input)
		done <- invokeResult{out, err}
	}()

	start := time.Now()
	select {
	case res := <-done:
		if res.err != nil {
			var te *Error
			if errors.As(res.err, &te) {
				return nil, te
			}
			return nil, &Error{Kind: KindExecution, Tool: call.Name, Err: res.err}
		}
		d.logger.Debug("tool completed",
			"tool", call.Name,
			"duration", time.Since(start).String())
		return res.out, nil
	case <-ctx.Done():
		d.logger.Warn("tool invocation aborted",
			"tool", call.Name,
			"duration", time.Since(start).String(),
			"cause", ctx.Err())
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &Error{Kind: KindTimeout, Tool: call.Name, Err: ctx.Err()}
		}
		return nil, ctx.Err()
	}
}
