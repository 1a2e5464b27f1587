// Package stream defines the typed turn-event protocol and its SSE
// framing. The orchestrator produces Events; the HTTP gateway encodes
// them as Server-Sent Events, and clients (or tests) decode them back.
package stream

import (
	"encoding/json"

	"github.com/librarian-ai/librarian/internal/session"
)

// EventType tags one frame of the turn stream.
type EventType string

// Event types in protocol order. error is terminal: no further events
// follow it for the turn.
const (
	EventMessageStart EventType = "message_start"
	EventContent      EventType = "content"
	EventToolCall     EventType = "tool_call"
	EventToolResult   EventType = "tool_result"
	EventMessageEnd   EventType = "message_end"
	EventError        EventType = "error"
)

// Event is one typed frame. Data holds the payload struct matching
// Type.
type Event struct {
	Type EventType
	Data any
}

// MessageStartData opens a turn stream.
type MessageStartData struct {
	SessionID string `json:"sessionId"`
}

// ContentData carries one text delta.
type ContentData struct {
	Text string `json:"text"`
}

// ToolCallData announces a model-requested tool invocation.
type ToolCallData struct {
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResultData carries a tool's outcome. Exactly one of Output or
// Error is set.
type ToolResultData struct {
	Name   string          `json:"name"`
	Output json.RawMessage `json:"output,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// MessageEndData closes a successful turn with its cost accounting.
type MessageEndData struct {
	Usage session.CostMetrics `json:"usage"`
}

// ErrorData closes a failed turn.
type ErrorData struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Convenience constructors.

func MessageStart(sessionID string) Event {
	return Event{Type: EventMessageStart, Data: MessageStartData{SessionID: sessionID}}
}

func Content(text string) Event {
	return Event{Type: EventContent, Data: ContentData{Text: text}}
}

func ToolCall(name string, input json.RawMessage) Event {
	return Event{Type: EventToolCall, Data: ToolCallData{Name: name, Input: input}}
}

func ToolResult(name string, output json.RawMessage) Event {
	return Event{Type: EventToolResult, Data: ToolResultData{Name: name, Output: output}}
}

func ToolResultError(name, errMsg string) Event {
	return Event{Type: EventToolResult, Data: ToolResultData{Name: name, Error: errMsg}}
}

func MessageEnd(usage session.CostMetrics) Event {
	return Event{Type: EventMessageEnd, Data: MessageEndData{Usage: usage}}
}

func Error(kind, message string) Event {
	return Event{Type: EventError, Data: ErrorData{Kind: kind, Message: message}}
}
