package stream

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// Encoder writes events as SSE frames: an event-type line, a data line
// with the JSON payload, and a blank line terminating the frame. When
// the underlying writer supports http.Flusher each frame is flushed
// immediately so chunks reach the client as they are produced.
type Encoder struct {
	w       io.Writer
	flusher http.Flusher
}

// NewEncoder wraps w. Flushing is enabled when w implements
// http.Flusher.
func NewEncoder(w io.Writer) *Encoder {
	flusher, _ := w.(http.Flusher)
	return &Encoder{w: w, flusher: flusher}
}

// Encode writes one event frame.
func (e *Encoder) Encode(ev Event) error {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", ev.Type, err)
	}
	if _, err := fmt.Fprintf(e.w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
		return fmt.Errorf("write %s frame: %w", ev.Type, err)
	}
	if e.flusher != nil {
		e.flusher.Flush()
	}
	return nil
}
