// Package turn runs the model/tool loop for one user message. The
// orchestrator submits the conversation to the model backend, streams
// content deltas out as typed events, dispatches any requested tool
// calls, and resubmits the augmented conversation until the model
// finishes or a limit is hit. One turn per session runs at a time; the
// session store's turn lease enforces that.
package turn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/google/uuid"

	"github.com/librarian-ai/librarian/internal/cost"
	"github.com/librarian-ai/librarian/internal/log"
	"github.com/librarian-ai/librarian/internal/model"
	"github.com/librarian-ai/librarian/internal/session"
	"github.com/librarian-ai/librarian/internal/skill"
	"github.com/librarian-ai/librarian/internal/stream"
	"github.com/librarian-ai/librarian/internal/tool"
)

// Defaults for the orchestrator limits.
const (
	DefaultMaxToolLoops = 8
	DefaultModelTimeout = 2 * time.Minute
)

// eventBuffer smooths bursts between the turn goroutine and the
// transport writer.
const eventBuffer = 16

// ErrEmptyMessage indicates a turn was requested with no user message.
var ErrEmptyMessage = errors.New("message is empty")

// Config wires an Orchestrator.
type Config struct {
	Sessions   *session.Store
	Backend    model.Backend
	Dispatcher *tool.Dispatcher
	// Skills optionally injects matching skill documents into the
	// conversation per message.
	Skills  *skill.Manager
	Pricing cost.Pricing
	// MaxToolLoops bounds model/tool round trips per turn.
	MaxToolLoops int
	// ModelTimeout bounds each individual model call.
	ModelTimeout time.Duration
	Logger       log.Logger
}

func (c Config) validate() error {
	if c.Sessions == nil {
		return fmt.Errorf("session store is required")
	}
	if c.Backend == nil {
		return fmt.Errorf("model backend is required")
	}
	if c.Dispatcher == nil {
		return fmt.Errorf("tool dispatcher is required")
	}
	return nil
}

// Orchestrator drives turns. Safe for concurrent use across sessions.
type Orchestrator struct {
	sessions     *session.Store
	backend      model.Backend
	dispatcher   *tool.Dispatcher
	skills       *skill.Manager
	pricing      cost.Pricing
	maxToolLoops int
	modelTimeout time.Duration
	logger       log.Logger
}

// New validates cfg and returns an orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid orchestrator config: %w", err)
	}
	if cfg.MaxToolLoops <= 0 {
		cfg.MaxToolLoops = DefaultMaxToolLoops
	}
	if cfg.ModelTimeout <= 0 {
		cfg.ModelTimeout = DefaultModelTimeout
	}
	if cfg.Pricing == (cost.Pricing{}) {
		cfg.Pricing = cost.DefaultPricing()
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NewNop()
	}
	return &Orchestrator{
		sessions:     cfg.Sessions,
		backend:      cfg.Backend,
		dispatcher:   cfg.Dispatcher,
		skills:       cfg.Skills,
		pricing:      cfg.Pricing,
		maxToolLoops: cfg.MaxToolLoops,
		modelTimeout: cfg.ModelTimeout,
		logger:       cfg.Logger,
	}, nil
}

// Run starts one turn and returns its event stream. Precondition
// failures (session.ErrNotFound, session.ErrTurnInProgress) are
// returned synchronously before any stream is opened. The returned
// channel is closed after the terminal event; ctx cancellation (client
// disconnect) stops the turn at its next suspension point.
func (o *Orchestrator) Run(ctx context.Context, sessionID uuid.UUID, message string, requester session.Requester) (<-chan stream.Event, error) {
	if message == "" {
		return nil, ErrEmptyMessage
	}

	history, err := o.sessions.History(sessionID)
	if err != nil {
		return nil, err
	}
	release, err := o.sessions.BeginTurn(sessionID)
	if err != nil {
		return nil, err
	}

	events := make(chan stream.Event, eventBuffer)
	go func() {
		defer close(events)
		defer release()
		o.execute(ctx, events, sessionID, message, requester, history)
	}()
	return events, nil
}

// execute runs the turn state machine to a terminal state and records
// the turn in history.
func (o *Orchestrator) execute(ctx context.Context, events chan<- stream.Event, sessionID uuid.UUID, message string, requester session.Requester, history []session.Turn) {
	start := time.Now()
	turn := &session.Turn{
		UserMessage: message,
		Requester:   requester,
		StartedAt:   start,
	}
	var totals session.CostMetrics

	o.emit(ctx, events, stream.MessageStart(sessionID.String()))

	msgs := o.buildConversation(message, history)

	for loop := 0; loop < o.maxToolLoops; loop++ {
		res, err := o.callModel(ctx, events, turn, msgs)
		if err != nil {
			o.finish(ctx, events, sessionID, turn, totals, classifyFailure(ctx, err), err)
			return
		}
		totals.Add(cost.Compute(res.Usage, o.pricing))

		if len(res.ToolCalls) == 0 {
			turn.Status = session.TurnCompleted
			o.finish(ctx, events, sessionID, turn, totals, "", nil)
			return
		}

		// The model message carrying the tool requests must precede the
		// tool responses in the resubmitted conversation.
		if res.Message != nil {
			msgs = append(msgs, res.Message)
		}
		toolMsgs, err := o.runTools(ctx, events, turn, res.ToolCalls)
		if err != nil {
			o.finish(ctx, events, sessionID, turn, totals, classifyFailure(ctx, err), err)
			return
		}
		msgs = append(msgs, toolMsgs...)
	}

	err := fmt.Errorf("tool loop limit %d exceeded", o.maxToolLoops)
	o.finish(ctx, events, sessionID, turn, totals, session.FailToolLoopExceeded, err)
}

// callModel performs one model call, streaming content deltas as they
// arrive.
func (o *Orchestrator) callModel(ctx context.Context, events chan<- stream.Event, turn *session.Turn, msgs []*ai.Message) (*model.Result, error) {
	modelCtx, cancel := context.WithTimeout(ctx, o.modelTimeout)
	defer cancel()

	return o.backend.Generate(modelCtx, msgs, func(cbCtx context.Context, text string) error {
		if !o.emit(ctx, events, stream.Content(text)) {
			return context.Cause(ctx)
		}
		turn.Steps = append(turn.Steps, session.ContentStep(text))
		turn.FinalText += text
		return nil
	})
}

// runTools dispatches each requested call in order, emitting the
// tool_call/tool_result event pair and recording the matching steps.
// Tool failures are fed back to the model as error results rather than
// ending the turn. A client disconnect discards the in-flight tool's
// result; the tool itself runs to completion.
func (o *Orchestrator) runTools(ctx context.Context, events chan<- stream.Event, turn *session.Turn, calls []model.ToolCall) ([]*ai.Message, error) {
	// Tools survive client disconnect; the dispatcher applies its own
	// per-invocation timeout.
	toolCtx := context.WithoutCancel(ctx)

	msgs := make([]*ai.Message, 0, len(calls))
	for _, call := range calls {
		if !o.emit(ctx, events, stream.ToolCall(call.Name, call.Input)) {
			return nil, context.Cause(ctx)
		}
		turn.Steps = append(turn.Steps, session.ToolCallStep(call.ID, call.Name, call.Input))

		output, err := o.dispatcher.Invoke(toolCtx, call)

		if ctx.Err() != nil {
			// Client is gone: the result is discarded, not streamed.
			o.logger.Info("discarding tool result after disconnect", "tool", call.Name)
			return nil, context.Cause(ctx)
		}

		if err != nil {
			o.logger.Warn("tool failed", "tool", call.Name, "error", err)
			turn.Steps = append(turn.Steps, session.ToolErrorStep(call.ID, call.Name, err.Error()))
			o.emit(ctx, events, stream.ToolResultError(call.Name, err.Error()))
			msgs = append(msgs, model.ToolResponseMessage(call.ID, call.Name, map[string]string{"error": err.Error()}))
			continue
		}

		outputJSON, merr := json.Marshal(output)
		if merr != nil {
			outputJSON = []byte(fmt.Sprintf("%q", fmt.Sprint(output)))
		}
		turn.Steps = append(turn.Steps, session.ToolResultStep(call.ID, call.Name, outputJSON))
		o.emit(ctx, events, stream.ToolResult(call.Name, outputJSON))
		msgs = append(msgs, model.ToolResponseMessage(call.ID, call.Name, output))
	}
	return msgs, nil
}

// finish records the terminal state in history and emits the closing
// event. Failed turns keep whatever steps and text they accumulated.
func (o *Orchestrator) finish(ctx context.Context, events chan<- stream.Event, sessionID uuid.UUID, turn *session.Turn, totals session.CostMetrics, reason session.FailReason, cause error) {
	turn.Usage = totals
	turn.EndedAt = time.Now()

	if cause != nil {
		turn.Status = session.TurnFailed
		turn.FailReason = reason
		o.logger.Warn("turn failed",
			"session_id", sessionID,
			"reason", reason,
			"error", cause,
			"duration", turn.EndedAt.Sub(turn.StartedAt).String())
		o.emit(ctx, events, stream.Error(string(reason), cause.Error()))
	} else {
		o.logger.Info("turn completed",
			"session_id", sessionID,
			"steps", len(turn.Steps),
			"cost_usd", totals.CostUSD,
			"duration", turn.EndedAt.Sub(turn.StartedAt).String())
		o.emit(ctx, events, stream.MessageEnd(totals))
	}

	if err := o.sessions.AppendTurn(sessionID, *turn); err != nil {
		o.logger.Error("append turn to history", "session_id", sessionID, "error", err)
	}
}

// buildConversation assembles prior completed turns plus the new user
// message, with any detected skill documents injected up front.
func (o *Orchestrator) buildConversation(message string, history []session.Turn) []*ai.Message {
	var msgs []*ai.Message

	if o.skills != nil {
		if needed := o.skills.Detect(message); len(needed) > 0 {
			msgs = append(msgs, ai.NewMessage(ai.RoleSystem, nil,
				ai.NewTextPart(o.skills.SystemPrompt("Relevant skills for this request:", needed))))
		}
	}

	for _, t := range history {
		if t.Status != session.TurnCompleted {
			continue
		}
		msgs = append(msgs, ai.NewUserMessage(ai.NewTextPart(t.UserMessage)))
		if t.FinalText != "" {
			msgs = append(msgs, ai.NewModelMessage(ai.NewTextPart(t.FinalText)))
		}
	}
	return append(msgs, ai.NewUserMessage(ai.NewTextPart(message)))
}

// emit delivers ev unless the client is gone. Returns false once ctx is
// done.
func (o *Orchestrator) emit(ctx context.Context, events chan<- stream.Event, ev stream.Event) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// classifyFailure maps an execution error to its history reason.
func classifyFailure(ctx context.Context, err error) session.FailReason {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return session.FailClientDisconnected
	}
	return session.FailModelError
}
