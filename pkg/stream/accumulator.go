package stream

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/tidwall/gjson"
)

// ErrMalformedEvent is returned by Push when an event payload is not valid JSON.
var ErrMalformedEvent = errors.New("malformed stream event")

// Event types of the Messages API stream.
const (
	EventMessageStart      = "message_start"
	EventContentBlockStart = "content_block_start"
	EventContentBlockDelta = "content_block_delta"
	EventContentBlockStop  = "content_block_stop"
	EventMessageDelta      = "message_delta"
	EventMessageStop       = "message_stop"
	EventPing              = "ping"
	EventError             = "error"
)

type blockState struct {
	kind     string
	toolID   string
	toolName string
	text     strings.Builder
	args     strings.Builder
}

// Accumulator folds Messages API stream events into Completion records.
//
// It is stateful and must be driven from a single goroutine. A record is
// emitted on message_stop and on error events; every other known event only
// updates state, and unknown event types are ignored.
type Accumulator struct {
	ids RequestIDs

	current Completion
	blocks  map[int]*blockState
	emitted int
}

// NewAccumulator returns an accumulator whose records carry ids.
func NewAccumulator(ids RequestIDs) *Accumulator {
	a := &Accumulator{ids: ids}
	a.reset()
	return a
}

// Emitted returns the number of records produced so far.
func (a *Accumulator) Emitted() int {
	return a.emitted
}

// Push ingests one event. When the event completes a logical message unit the
// synthesized record is returned with ok set to true.
func (a *Accumulator) Push(eventType string, data []byte) (c Completion, ok bool, err error) {
	if !gjson.ValidBytes(data) {
		return Completion{}, false, fmt.Errorf("%w: %s", ErrMalformedEvent, eventType)
	}
	payload := gjson.ParseBytes(data)

	if eventType == "" {
		eventType = payload.Get("type").String()
	}

	switch eventType {
	case EventMessageStart:
		a.onMessageStart(payload.Get("message"))
	case EventContentBlockStart:
		a.onBlockStart(payload)
	case EventContentBlockDelta:
		a.onBlockDelta(payload)
	case EventContentBlockStop:
		a.onBlockStop(payload)
	case EventMessageDelta:
		a.onMessageDelta(payload)
	case EventMessageStop:
		return a.emit(), true, nil
	case EventError:
		a.current.FinishReason = FinishError
		a.current.ErrorType = payload.Get("error.type").String()
		a.current.ErrorMessage = payload.Get("error.message").String()
		return a.emit(), true, nil
	}

	return Completion{}, false, nil
}

func (a *Accumulator) onMessageStart(msg gjson.Result) {
	a.current.MessageID = msg.Get("id").String()
	if model := msg.Get("model").String(); model != "" {
		a.current.Model = model
	}

	usage := msg.Get("usage")
	input := usage.Get("input_tokens").Int()
	cacheRead := usage.Get("cache_read_input_tokens").Int()
	cacheCreation := usage.Get("cache_creation_input_tokens").Int()

	a.current.Usage.PromptTokens = input + cacheRead + cacheCreation
	a.current.Usage.CachedTokens = cacheRead
	a.current.Usage.CacheCreationTokens = cacheCreation
	a.current.Usage.CompletionTokens = usage.Get("output_tokens").Int()
}

func (a *Accumulator) onBlockStart(payload gjson.Result) {
	idx := int(payload.Get("index").Int())
	block := payload.Get("content_block")

	st := &blockState{kind: block.Get("type").String()}
	switch st.kind {
	case "tool_use", "server_tool_use":
		st.toolID = block.Get("id").String()
		st.toolName = block.Get("name").String()
	case "text":
		st.text.WriteString(block.Get("text").String())
	}
	a.blocks[idx] = st
}

func (a *Accumulator) onBlockDelta(payload gjson.Result) {
	idx := int(payload.Get("index").Int())
	st, ok := a.blocks[idx]
	if !ok {
		st = &blockState{}
		a.blocks[idx] = st
	}

	delta := payload.Get("delta")
	switch delta.Get("type").String() {
	case "text_delta":
		if st.kind == "" {
			st.kind = "text"
		}
		st.text.WriteString(delta.Get("text").String())
	case "thinking_delta":
		if st.kind == "" {
			st.kind = "thinking"
		}
		st.text.WriteString(delta.Get("thinking").String())
	case "input_json_delta":
		st.args.WriteString(delta.Get("partial_json").String())
	}
}

func (a *Accumulator) onBlockStop(payload gjson.Result) {
	idx := int(payload.Get("index").Int())
	if st, ok := a.blocks[idx]; ok && st.kind == "" {
		delete(a.blocks, idx)
	}
}

func (a *Accumulator) onMessageDelta(payload gjson.Result) {
	if stop := payload.Get("delta.stop_reason"); stop.Exists() && stop.Type != gjson.Null {
		a.current.StopReason = stop.String()
		a.current.FinishReason, a.current.FilterReason = MapStopReason(a.current.StopReason)
	}

	usage := payload.Get("usage")
	if out := usage.Get("output_tokens"); out.Exists() {
		a.current.Usage.CompletionTokens = out.Int()
	}
	// Some upstreams only report input usage at the end of the stream.
	if in := usage.Get("input_tokens"); in.Exists() && in.Int() > 0 {
		cacheRead := usage.Get("cache_read_input_tokens").Int()
		cacheCreation := usage.Get("cache_creation_input_tokens").Int()
		a.current.Usage.PromptTokens = in.Int() + cacheRead + cacheCreation
		if cacheRead > 0 {
			a.current.Usage.CachedTokens = cacheRead
		}
		if cacheCreation > 0 {
			a.current.Usage.CacheCreationTokens = cacheCreation
		}
	}
	if r := usage.Get("output_tokens_details.reasoning_tokens"); r.Exists() {
		a.current.Usage.ReasoningTokens = r.Int()
	}
}

func (a *Accumulator) emit() Completion {
	c := a.current
	c.RequestIDs = a.ids
	if c.FinishReason == "" {
		c.FinishReason, c.FilterReason = MapStopReason(c.StopReason)
	}
	c.Usage.TotalTokens = c.Usage.PromptTokens + c.Usage.CompletionTokens

	indexes := make([]int, 0, len(a.blocks))
	for idx := range a.blocks {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	var text, thinking strings.Builder
	for _, idx := range indexes {
		st := a.blocks[idx]
		switch st.kind {
		case "text":
			text.WriteString(st.text.String())
		case "thinking", "redacted_thinking":
			thinking.WriteString(st.text.String())
		case "tool_use", "server_tool_use":
			c.ToolCalls = append(c.ToolCalls, ToolCall{
				ID:        st.toolID,
				Name:      st.toolName,
				Arguments: st.args.String(),
			})
		}
	}
	c.Text = text.String()
	c.Thinking = thinking.String()

	a.emitted++
	a.reset()
	return c
}

func (a *Accumulator) reset() {
	model := a.current.Model
	a.current = Completion{Model: model}
	a.blocks = make(map[int]*blockState)
}
