package sse

import (
	"bytes"
	"strings"

	"github.com/tidwall/gjson"
)

// DoneSentinel is the payload some upstreams send to mark the end of a stream.
const DoneSentinel = "[DONE]"

// Event is one decoded Server-Sent Event.
type Event struct {
	// Type is the value of the "event:" field. When the frame carried no
	// event field it is taken from the "type" member of the JSON payload.
	Type string

	// Data is the concatenation of all "data:" lines, joined with "\n".
	Data string

	// ID is the value of the "id:" field, if present.
	ID string
}

// Parser incrementally decodes a byte stream into SSE events.
//
// Feed may be called with arbitrary chunk boundaries, including chunks that
// split a line or a multi-byte UTF-8 sequence. Bytes are buffered until a
// complete line is available and only then converted to a string.
//
// A Parser is not safe for concurrent use.
type Parser struct {
	onEvent func(Event)

	buf       []byte
	eventType string
	id        string
	data      []string
	hasData   bool
}

// NewParser returns a parser that calls onEvent for every complete event
// carrying a usable payload.
func NewParser(onEvent func(Event)) *Parser {
	return &Parser{onEvent: onEvent}
}

// Feed appends chunk to the internal buffer and dispatches every event that
// is terminated by a blank line.
func (p *Parser) Feed(chunk []byte) {
	p.buf = append(p.buf, chunk...)

	for {
		idx := bytes.IndexByte(p.buf, '\n')
		if idx < 0 {
			break
		}

		line := p.buf[:idx]
		if n := len(line); n > 0 && line[n-1] == '\r' {
			line = line[:n-1]
		}
		p.processLine(string(line))
		p.buf = p.buf[idx+1:]
	}

	// Reclaim the backing array once everything has been consumed.
	if len(p.buf) == 0 {
		p.buf = nil
	}
}

// Flush dispatches any event left pending when the stream ends without a
// trailing blank line. An incomplete final line is treated as complete.
func (p *Parser) Flush() {
	if len(p.buf) > 0 {
		line := p.buf
		if n := len(line); line[n-1] == '\r' {
			line = line[:n-1]
		}
		p.processLine(string(line))
		p.buf = nil
	}
	p.dispatch()
}

// Buffered returns the number of bytes held while waiting for a line end.
func (p *Parser) Buffered() int {
	return len(p.buf)
}

func (p *Parser) processLine(line string) {
	if line == "" {
		p.dispatch()
		return
	}

	if strings.HasPrefix(line, ":") {
		return
	}

	field, value, found := strings.Cut(line, ":")
	if found {
		value = strings.TrimPrefix(value, " ")
	}

	switch field {
	case "event":
		p.eventType = value
	case "data":
		p.data = append(p.data, value)
		p.hasData = true
	case "id":
		p.id = value
	}
}

func (p *Parser) dispatch() {
	if !p.hasData {
		p.reset()
		return
	}

	data := strings.Join(p.data, "\n")
	eventType := p.eventType
	id := p.id
	p.reset()

	trimmed := strings.TrimSpace(data)
	if trimmed == "" || trimmed == DoneSentinel {
		return
	}

	if eventType == "" {
		eventType = gjson.Get(trimmed, "type").String()
	}

	if p.onEvent != nil {
		p.onEvent(Event{Type: eventType, Data: data, ID: id})
	}
}

func (p *Parser) reset() {
	p.eventType = ""
	p.id = ""
	p.data = p.data[:0]
	p.hasData = false
}
