package stream

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/librarian-ai/librarian/internal/log"
)

// Decoder incrementally parses SSE frames back into typed events. It
// reads whatever bytes are available, so it works against a live
// response body that delivers frames one flush at a time.
//
// An unparseable payload or unknown event type is a soft error: the
// frame is logged and skipped, and decoding continues with the next
// frame. Transport errors (including EOF inside a frame) abort.
type Decoder struct {
	r      *bufio.Reader
	logger log.Logger
}

// NewDecoder wraps r.
func NewDecoder(r io.Reader, logger log.Logger) *Decoder {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Decoder{r: bufio.NewReader(r), logger: logger}
}

// Next returns the next decodable event. It returns io.EOF at a clean
// end of stream and io.ErrUnexpectedEOF when the stream ends inside a
// frame.
func (d *Decoder) Next() (Event, error) {
	for {
		eventType, data, err := d.readFrame()
		if err != nil {
			return Event{}, err
		}

		payload, err := decodePayload(eventType, data)
		if err != nil {
			d.logger.Warn("skipping undecodable frame",
				"event", eventType,
				"error", err)
			continue
		}
		return Event{Type: eventType, Data: payload}, nil
	}
}

// readFrame reads lines up to the blank frame terminator. Multiple
// data lines join with newline per the SSE spec; ":" comment lines are
// ignored.
func (d *Decoder) readFrame() (EventType, []byte, error) {
	var (
		eventType EventType
		dataLines []string
		inFrame   bool
	)
	for {
		line, err := d.r.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				if inFrame || line != "" {
					return "", nil, io.ErrUnexpectedEOF
				}
				return "", nil, io.EOF
			}
			return "", nil, fmt.Errorf("read frame: %w", err)
		}
		line = strings.TrimRight(line, "\r\n")

		switch {
		case line == "":
			if inFrame {
				return eventType, []byte(strings.Join(dataLines, "\n")), nil
			}
		case strings.HasPrefix(line, "event:"):
			eventType = EventType(strings.TrimSpace(strings.TrimPrefix(line, "event:")))
			inFrame = true
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
			inFrame = true
		case strings.HasPrefix(line, ":"):
			// comment, keep-alive
		default:
			d.logger.Warn("ignoring malformed frame line", "line", line)
		}
	}
}

// decodePayload unmarshals data into the payload type for t.
func decodePayload(t EventType, data []byte) (any, error) {
	switch t {
	case EventMessageStart:
		var v MessageStartData
		err := json.Unmarshal(data, &v)
		return v, err
	case EventContent:
		var v ContentData
		err := json.Unmarshal(data, &v)
		return v, err
	case EventToolCall:
		var v ToolCallData
		err := json.Unmarshal(data, &v)
		return v, err
	case EventToolResult:
		var v ToolResultData
		err := json.Unmarshal(data, &v)
		return v, err
	case EventMessageEnd:
		var v MessageEndData
		err := json.Unmarshal(data, &v)
		return v, err
	case EventError:
		var v ErrorData
		err := json.Unmarshal(data, &v)
		return v, err
	default:
		return nil, fmt.Errorf("unknown event type %q", t)
	}
}
