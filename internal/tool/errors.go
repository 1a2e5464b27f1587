package tool

import "fmt"

// ErrorKind classifies a failed tool invocation. The value is stable and
// appears verbatim in stream error payloads.
type ErrorKind string

const (
	// KindUnknownTool means the model requested a tool that is not
	// registered.
	KindUnknownTool ErrorKind = "unknown_tool"
	// KindInvalidInput means the request arguments did not decode into
	// the tool's input type.
	KindInvalidInput ErrorKind = "invalid_input"
	// KindTimeout means the tool exceeded its invocation deadline.
	KindTimeout ErrorKind = "timeout"
	// KindExecution means the tool ran and returned an error.
	KindExecution ErrorKind = "execution"
)

// Error describes a failed invocation of a named tool.
type Error struct {
	Kind ErrorKind
	Tool string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("tool %q: %s", e.Tool, e.Kind)
	}
	return fmt.Sprintf("tool %q: %s: %v", e.Tool, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
