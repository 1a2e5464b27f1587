package turn

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/librarian-ai/librarian/internal/log"
	"github.com/librarian-ai/librarian/internal/model"
	"github.com/librarian-ai/librarian/internal/session"
	"github.com/librarian-ai/librarian/internal/stream"
	"github.com/librarian-ai/librarian/internal/testutil"
	"github.com/librarian-ai/librarian/internal/tool"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
		// genkit.Init installs a signal.NotifyContext and discards its
		// cancel func, leaking one goroutine per Init call.
		goleak.IgnoreTopFunction("os/signal.NotifyContext.func1"),
	)
}

// backendFunc adapts a function to model.Backend for tests that need
// fine-grained control over streaming.
type backendFunc func(ctx context.Context, msgs []*ai.Message, cb model.StreamCallback) (*model.Result, error)

func (f backendFunc) Generate(ctx context.Context, msgs []*ai.Message, cb model.StreamCallback) (*model.Result, error) {
	return f(ctx, msgs, cb)
}

type searchInput struct {
	Query string `json:"query"`
}

type searchOutput struct {
	Results []string `json:"results"`
}

type fixture struct {
	orch      *Orchestrator
	store     *session.Store
	sessionID uuid.UUID
}

func newFixture(t *testing.T, backend model.Backend, searchFn func(ctx context.Context, in searchInput) (searchOutput, error), opts ...func(*Config)) *fixture {
	t.Helper()

	g := genkit.Init(context.Background())
	require.NotNil(t, g)

	dispatcher := tool.NewDispatcher(log.NewNop(), time.Second)
	if searchFn == nil {
		searchFn = func(context.Context, searchInput) (searchOutput, error) {
			return searchOutput{Results: []string{"stub"}}, nil
		}
	}
	tool.Define(dispatcher, g, "search_docs", "Search the library index.", searchFn)

	store := session.NewStore(log.NewNop())
	cfg := Config{
		Sessions:   store,
		Backend:    backend,
		Dispatcher: dispatcher,
		Logger:     log.NewNop(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	orch, err := New(cfg)
	require.NoError(t, err)

	summary := store.Create()
	return &fixture{orch: orch, store: store, sessionID: summary.ID}
}

func collect(t *testing.T, events <-chan stream.Event) []stream.Event {
	t.Helper()
	var out []stream.Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatalf("event stream did not close; got %d events", len(out))
		}
	}
}

func eventTypes(events []stream.Event) []stream.EventType {
	types := make([]stream.EventType, len(events))
	for i, ev := range events {
		types[i] = ev.Type
	}
	return types
}

func TestRun_StreamsContentTurn(t *testing.T) {
	t.Parallel()

	backend := testutil.NewScriptedBackend(testutil.ScriptedTurn{
		Chunks: []string{"Hi", " there"},
		Text:   "Hi there",
		Usage:  model.Usage{InputTokens: 100, OutputTokens: 5, CacheReadTokens: 40},
	})
	f := newFixture(t, backend, nil)

	events, err := f.orch.Run(context.Background(), f.sessionID, "Hello", session.Requester{ID: "u1", Type: session.RequesterHuman})
	require.NoError(t, err)
	got := collect(t, events)

	require.Equal(t, []stream.EventType{
		stream.EventMessageStart,
		stream.EventContent,
		stream.EventContent,
		stream.EventMessageEnd,
	}, eventTypes(got))
	assert.Equal(t, stream.ContentData{Text: "Hi"}, got[1].Data)
	assert.Equal(t, stream.ContentData{Text: " there"}, got[2].Data)

	end, ok := got[3].Data.(stream.MessageEndData)
	require.True(t, ok)
	assert.Equal(t, int64(100), end.Usage.InputTokens)
	assert.Positive(t, end.Usage.CostUSD)
	assert.Positive(t, end.Usage.SavingsUSD, "cache reads generate savings")

	history, err := f.store.History(f.sessionID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	turn := history[0]
	assert.Equal(t, session.TurnCompleted, turn.Status)
	assert.Equal(t, "Hi there", turn.FinalText)
	assert.Equal(t, "Hello", turn.UserMessage)
	assert.Equal(t, end.Usage, turn.Usage, "streamed totals match the history entry")
}

func TestRun_ToolCallRoundTrip(t *testing.T) {
	t.Parallel()

	backend := testutil.NewScriptedBackend(
		testutil.ScriptedTurn{
			Tools: []model.ToolCall{{ID: "c1", Name: "search_docs", Input: json.RawMessage(`{"query":"X"}`)}},
			Usage: model.Usage{InputTokens: 50, OutputTokens: 10},
		},
		testutil.ScriptedTurn{
			Chunks: []string{"Found it"},
			Text:   "Found it",
			Usage:  model.Usage{InputTokens: 80, OutputTokens: 4},
		},
	)
	var gotQuery string
	f := newFixture(t, backend, func(_ context.Context, in searchInput) (searchOutput, error) {
		gotQuery = in.Query
		return searchOutput{Results: []string{"doc-1", "doc-2"}}, nil
	})

	events, err := f.orch.Run(context.Background(), f.sessionID, "find X", session.Requester{ID: "u1", Type: session.RequesterHuman})
	require.NoError(t, err)
	got := collect(t, events)

	require.Equal(t, []stream.EventType{
		stream.EventMessageStart,
		stream.EventToolCall,
		stream.EventToolResult,
		stream.EventContent,
		stream.EventMessageEnd,
	}, eventTypes(got))
	assert.Equal(t, "X", gotQuery)

	tr, ok := got[2].Data.(stream.ToolResultData)
	require.True(t, ok)
	assert.Equal(t, "search_docs", tr.Name)
	assert.JSONEq(t, `{"results":["doc-1","doc-2"]}`, string(tr.Output))

	end, ok := got[4].Data.(stream.MessageEndData)
	require.True(t, ok)
	assert.Equal(t, int64(130), end.Usage.InputTokens, "usage accumulates across the loop")

	history, err := f.store.History(f.sessionID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	steps := history[0].Steps
	require.Len(t, steps, 3)
	assert.Equal(t, session.StepToolCall, steps[0].Kind)
	assert.Equal(t, session.StepToolResult, steps[1].Kind)
	assert.Equal(t, session.StepContent, steps[2].Kind)
	assert.Equal(t, steps[0].ToolCallID, steps[1].ToolCallID)

	// The resubmitted conversation carries the model's tool request and
	// the tool response.
	calls := backend.Calls()
	require.Len(t, calls, 2)
	second := calls[1]
	var sawToolResponse bool
	for _, msg := range second {
		for _, part := range msg.Content {
			if part.ToolResponse != nil && part.ToolResponse.Name == "search_docs" {
				sawToolResponse = true
			}
		}
	}
	assert.True(t, sawToolResponse)
}

func TestRun_ToolErrorFedBack(t *testing.T) {
	t.Parallel()

	backend := testutil.NewScriptedBackend(
		testutil.ScriptedTurn{
			Tools: []model.ToolCall{{ID: "c1", Name: "search_docs", Input: json.RawMessage(`{"query":"X"}`)}},
		},
		testutil.ScriptedTurn{Text: "The index is unavailable right now."},
	)
	f := newFixture(t, backend, func(context.Context, searchInput) (searchOutput, error) {
		return searchOutput{}, errors.New("index offline")
	})

	events, err := f.orch.Run(context.Background(), f.sessionID, "find X", session.Requester{ID: "u1", Type: session.RequesterHuman})
	require.NoError(t, err)
	got := collect(t, events)

	require.Equal(t, []stream.EventType{
		stream.EventMessageStart,
		stream.EventToolCall,
		stream.EventToolResult,
		stream.EventContent,
		stream.EventMessageEnd,
	}, eventTypes(got), "a tool failure is not fatal to the turn")

	tr, ok := got[2].Data.(stream.ToolResultData)
	require.True(t, ok)
	assert.Contains(t, tr.Error, "index offline")
	assert.Empty(t, tr.Output)

	history, err := f.store.History(f.sessionID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, session.TurnCompleted, history[0].Status)
	assert.Contains(t, history[0].Steps[1].ToolError, "index offline")
}

func TestRun_UnknownToolFedBack(t *testing.T) {
	t.Parallel()

	backend := testutil.NewScriptedBackend(
		testutil.ScriptedTurn{
			Tools: []model.ToolCall{{ID: "c1", Name: "no_such_tool", Input: json.RawMessage(`{}`)}},
		},
		testutil.ScriptedTurn{Text: "I cannot use that tool."},
	)
	f := newFixture(t, backend, nil)

	events, err := f.orch.Run(context.Background(), f.sessionID, "hi", session.Requester{ID: "u1", Type: session.RequesterHuman})
	require.NoError(t, err)
	got := collect(t, events)

	tr, ok := got[2].Data.(stream.ToolResultData)
	require.True(t, ok)
	assert.Contains(t, tr.Error, "unknown_tool")
}

func TestRun_ToolLoopExceeded(t *testing.T) {
	t.Parallel()

	const maxLoops = 3
	turns := make([]testutil.ScriptedTurn, maxLoops)
	for i := range turns {
		turns[i] = testutil.ScriptedTurn{
			Tools: []model.ToolCall{{ID: "c", Name: "search_docs", Input: json.RawMessage(`{"query":"again"}`)}},
			Usage: model.Usage{InputTokens: 10},
		}
	}
	backend := testutil.NewScriptedBackend(turns...)
	f := newFixture(t, backend, nil, func(c *Config) { c.MaxToolLoops = maxLoops })

	events, err := f.orch.Run(context.Background(), f.sessionID, "loop", session.Requester{ID: "u1", Type: session.RequesterHuman})
	require.NoError(t, err)
	got := collect(t, events)

	last := got[len(got)-1]
	require.Equal(t, stream.EventError, last.Type)
	errData, ok := last.Data.(stream.ErrorData)
	require.True(t, ok)
	assert.Equal(t, string(session.FailToolLoopExceeded), errData.Kind)

	history, err := f.store.History(f.sessionID)
	require.NoError(t, err)
	require.Len(t, history, 1, "the partial turn is still recorded")
	turn := history[0]
	assert.Equal(t, session.TurnFailed, turn.Status)
	assert.Equal(t, session.FailToolLoopExceeded, turn.FailReason)
	assert.Len(t, turn.Steps, maxLoops*2, "each loop recorded its tool call and result")
	assert.Equal(t, int64(10*maxLoops), turn.Usage.InputTokens)
}

func TestRun_ModelErrorEmitsTerminalError(t *testing.T) {
	t.Parallel()

	backend := testutil.NewScriptedBackend(testutil.ScriptedTurn{
		Err: errors.New("invalid request"),
	})
	f := newFixture(t, backend, nil)

	events, err := f.orch.Run(context.Background(), f.sessionID, "hi", session.Requester{ID: "u1", Type: session.RequesterHuman})
	require.NoError(t, err)
	got := collect(t, events)

	require.Equal(t, []stream.EventType{stream.EventMessageStart, stream.EventError}, eventTypes(got))
	errData := got[1].Data.(stream.ErrorData)
	assert.Equal(t, string(session.FailModelError), errData.Kind)
	assert.Contains(t, errData.Message, "invalid request")

	history, err := f.store.History(f.sessionID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, session.TurnFailed, history[0].Status)
	assert.Equal(t, session.FailModelError, history[0].FailReason)
}

func TestRun_SessionNotFound(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testutil.NewScriptedBackend(), nil)
	_, err := f.orch.Run(context.Background(), uuid.New(), "hi", session.Requester{})
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestRun_SecondTurnRejected(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	proceed := make(chan struct{})
	backend := backendFunc(func(ctx context.Context, _ []*ai.Message, cb model.StreamCallback) (*model.Result, error) {
		close(started)
		<-proceed
		_ = cb(ctx, "done")
		return &model.Result{Text: "done", Message: ai.NewModelMessage(ai.NewTextPart("done"))}, nil
	})
	f := newFixture(t, backend, nil)

	events, err := f.orch.Run(context.Background(), f.sessionID, "first", session.Requester{ID: "u1", Type: session.RequesterHuman})
	require.NoError(t, err)
	<-started

	_, err = f.orch.Run(context.Background(), f.sessionID, "second", session.Requester{ID: "u1", Type: session.RequesterHuman})
	assert.ErrorIs(t, err, session.ErrTurnInProgress)

	history, err := f.store.History(f.sessionID)
	require.NoError(t, err)
	assert.Empty(t, history, "rejected message does not alter history")

	close(proceed)
	collect(t, events)

	history, err = f.store.History(f.sessionID)
	require.NoError(t, err)
	assert.Len(t, history, 1, "only the first turn landed")
}

func TestRun_ClientDisconnectMidStream(t *testing.T) {
	t.Parallel()

	backend := backendFunc(func(ctx context.Context, _ []*ai.Message, cb model.StreamCallback) (*model.Result, error) {
		if err := cb(ctx, "Hi"); err != nil {
			return nil, err
		}
		if err := cb(ctx, " there"); err != nil {
			return nil, err
		}
		// Suspend until the client goes away.
		<-ctx.Done()
		return nil, ctx.Err()
	})
	f := newFixture(t, backend, nil)

	ctx, cancel := context.WithCancel(context.Background())
	events, err := f.orch.Run(ctx, f.sessionID, "hello", session.Requester{ID: "u1", Type: session.RequesterHuman})
	require.NoError(t, err)

	require.Equal(t, stream.EventMessageStart, (<-events).Type)
	require.Equal(t, stream.EventContent, (<-events).Type)
	require.Equal(t, stream.EventContent, (<-events).Type)
	cancel()

	got := collect(t, events)
	for _, ev := range got {
		assert.NotEqual(t, stream.EventMessageEnd, ev.Type, "no completion after disconnect")
	}

	require.Eventually(t, func() bool {
		history, err := f.store.History(f.sessionID)
		return err == nil && len(history) == 1
	}, 2*time.Second, 10*time.Millisecond)

	history, err := f.store.History(f.sessionID)
	require.NoError(t, err)
	turn := history[0]
	assert.Equal(t, session.TurnFailed, turn.Status)
	assert.Equal(t, session.FailClientDisconnected, turn.FailReason)
	assert.Equal(t, "Hi there", turn.FinalText, "partial text is preserved")
}

func TestRun_DisconnectDiscardsToolResult(t *testing.T) {
	t.Parallel()

	toolStarted := make(chan struct{})
	toolRelease := make(chan struct{})
	toolDone := make(chan struct{})

	backend := testutil.NewScriptedBackend(
		testutil.ScriptedTurn{
			Tools: []model.ToolCall{{ID: "c1", Name: "search_docs", Input: json.RawMessage(`{"query":"X"}`)}},
		},
		testutil.ScriptedTurn{Text: "never reached"},
	)
	f := newFixture(t, backend, func(context.Context, searchInput) (searchOutput, error) {
		close(toolStarted)
		<-toolRelease
		defer close(toolDone)
		return searchOutput{Results: []string{"late"}}, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	events, err := f.orch.Run(ctx, f.sessionID, "find X", session.Requester{ID: "u1", Type: session.RequesterHuman})
	require.NoError(t, err)

	require.Equal(t, stream.EventMessageStart, (<-events).Type)
	require.Equal(t, stream.EventToolCall, (<-events).Type)
	<-toolStarted
	cancel()
	close(toolRelease)

	select {
	case <-toolDone:
	case <-time.After(2 * time.Second):
		t.Fatal("tool did not run to completion")
	}

	got := collect(t, events)
	for _, ev := range got {
		assert.NotEqual(t, stream.EventToolResult, ev.Type, "result is discarded, not streamed")
	}

	require.Eventually(t, func() bool {
		history, err := f.store.History(f.sessionID)
		return err == nil && len(history) == 1
	}, 2*time.Second, 10*time.Millisecond)

	history, err := f.store.History(f.sessionID)
	require.NoError(t, err)
	turn := history[0]
	assert.Equal(t, session.FailClientDisconnected, turn.FailReason)
	require.NotEmpty(t, turn.Steps)
	assert.Equal(t, session.StepToolCall, turn.Steps[len(turn.Steps)-1].Kind, "no result step follows the abandoned call")
	assert.Equal(t, 1, backend.Remaining(), "the model is not called again after disconnect")
}

func TestRun_EmptyMessageRejected(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testutil.NewScriptedBackend(), nil)
	_, err := f.orch.Run(context.Background(), f.sessionID, "", session.Requester{})
	assert.ErrorIs(t, err, ErrEmptyMessage)
}

func TestRun_HistoryCarriedIntoConversation(t *testing.T) {
	t.Parallel()

	backend := testutil.NewScriptedBackend(
		testutil.ScriptedTurn{Text: "First answer"},
		testutil.ScriptedTurn{Text: "Second answer"},
	)
	f := newFixture(t, backend, nil)
	requester := session.Requester{ID: "u1", Type: session.RequesterHuman}

	events, err := f.orch.Run(context.Background(), f.sessionID, "first question", requester)
	require.NoError(t, err)
	collect(t, events)

	events, err = f.orch.Run(context.Background(), f.sessionID, "second question", requester)
	require.NoError(t, err)
	collect(t, events)

	calls := backend.Calls()
	require.Len(t, calls, 2)
	second := calls[1]
	require.Len(t, second, 3, "prior user+model exchange plus the new message")
	assert.Equal(t, ai.RoleUser, second[0].Role)
	assert.Equal(t, "first question", second[0].Text())
	assert.Equal(t, ai.RoleModel, second[1].Role)
	assert.Equal(t, "First answer", second[1].Text())
	assert.Equal(t, "second question", second[2].Text())
}
