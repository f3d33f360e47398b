package relay

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/sashabaranov/go-openai"
)

const (
	dataPrefix = "data:"
	sentinel   = "[DONE]"
)

var frameDelimiter = []byte("\n\n")

// Event is one useful item decoded from the upstream stream: either a text
// delta or the end-of-stream sentinel.
type Event struct {
	Delta string
	Done  bool
}

// Decoder turns arbitrarily chunked upstream bytes into events. Only the
// trailing, not yet delimited fragment is retained between calls to Feed.
type Decoder struct {
	buf  []byte
	done bool
}

// Feed appends p to the pending fragment and returns the events carried by
// every frame completed by it. Once the sentinel has been seen, Feed returns
// nothing.
func (d *Decoder) Feed(p []byte) []Event {
	if d.done {
		return nil
	}
	d.buf = append(d.buf, p...)

	var events []Event
	for {
		idx := bytes.Index(d.buf, frameDelimiter)
		if idx < 0 {
			break
		}
		frame := d.buf[:idx]
		d.buf = d.buf[idx+len(frameDelimiter):]

		ev, ok := decodeFrame(frame)
		if !ok {
			continue
		}
		events = append(events, ev)
		if ev.Done {
			d.done = true
			d.buf = nil
			break
		}
	}

	// Keep the fragment in its own backing array so the consumed prefix can be collected.
	if len(d.buf) > 0 {
		d.buf = append([]byte(nil), d.buf...)
	}
	return events
}

// Pending returns the buffered partial frame.
func (d *Decoder) Pending() []byte {
	return d.buf
}

// Done reports whether the sentinel frame has been decoded.
func (d *Decoder) Done() bool {
	return d.done
}

func decodeFrame(frame []byte) (Event, bool) {
	line := strings.TrimSpace(string(frame))
	if !strings.HasPrefix(line, dataPrefix) {
		// comments, keep-alives and other protocol noise
		return Event{}, false
	}

	payload := strings.TrimLeft(line[len(dataPrefix):], " \t\r\n")
	if payload == sentinel {
		return Event{Done: true}, true
	}

	var chunk openai.ChatCompletionStreamResponse
	if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
		return Event{}, false
	}
	if len(chunk.Choices) == 0 {
		return Event{}, false
	}

	delta := chunk.Choices[0].Delta.Content
	if delta == "" {
		return Event{}, false
	}
	return Event{Delta: delta}, true
}
