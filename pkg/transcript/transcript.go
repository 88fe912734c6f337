// Package transcript reconstructs a plain-text view of a Messages API request
// for logging and telemetry. The reconstruction is lossy: blocks that have no
// text form are replaced by short placeholders.
package transcript

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"mercator-hq/lmserver/pkg/endpoint"
)

// ErrInvalidRequest is returned when the body is not a JSON object.
var ErrInvalidRequest = errors.New("request is not a JSON object")

// Placeholders used for blocks without a text form.
const (
	ImagePlaceholder      = "[image]"
	DocumentPlaceholder   = "[document]"
	ToolResultPlaceholder = "[tool_result]"
	ThinkingPlaceholder   = "[thinking]"
)

// Build converts the raw request body into flattened chat messages. The
// system prompt, when present, becomes the first message with role "system".
// Unknown or malformed blocks never fail the build.
func Build(body []byte) ([]endpoint.ChatMessage, error) {
	if !gjson.ValidBytes(body) {
		return nil, ErrInvalidRequest
	}
	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return nil, ErrInvalidRequest
	}

	var out []endpoint.ChatMessage
	if system := root.Get("system"); system.Exists() {
		if text := Content(system); text != "" {
			out = append(out, endpoint.ChatMessage{Role: "system", Content: text})
		}
	}

	messages := root.Get("messages")
	if !messages.IsArray() {
		return out, nil
	}
	messages.ForEach(func(_, msg gjson.Result) bool {
		role := msg.Get("role").String()
		if role == "" {
			role = "user"
		}
		out = append(out, endpoint.ChatMessage{Role: role, Content: Content(msg.Get("content"))})
		return true
	})
	return out, nil
}

// Content renders a content value, either a string or a block array.
func Content(v gjson.Result) string {
	switch {
	case v.Type == gjson.String:
		return v.String()
	case v.IsArray():
		var parts []string
		v.ForEach(func(_, block gjson.Result) bool {
			if s := Block(block); s != "" {
				parts = append(parts, s)
			}
			return true
		})
		return strings.Join(parts, "\n")
	case v.IsObject():
		return Block(v)
	default:
		return ""
	}
}

// Block renders one content block.
func Block(block gjson.Result) string {
	if block.Type == gjson.String {
		return block.String()
	}
	if !block.IsObject() {
		return fmt.Sprintf("[unsupported content: %s]", block.Type)
	}

	switch kind := block.Get("type").String(); kind {
	case "text":
		return block.Get("text").String()
	case "image":
		return ImagePlaceholder
	case "document":
		return DocumentPlaceholder
	case "tool_use", "server_tool_use":
		return fmt.Sprintf("[tool_use: %s]", block.Get("name").String())
	case "tool_result":
		// Nested text is kept since it is often the only readable output.
		if inner := Content(block.Get("content")); inner != "" {
			return ToolResultPlaceholder + " " + inner
		}
		return ToolResultPlaceholder
	case "thinking", "redacted_thinking":
		return ThinkingPlaceholder
	case "":
		return "[unsupported content]"
	default:
		return fmt.Sprintf("[unsupported content: %s]", kind)
	}
}

// Summary is a compact description of a transcript suitable for a log line.
type Summary struct {
	Messages   int
	Characters int
	Roles      map[string]int
}

// Summarize counts messages and characters per role.
func Summarize(msgs []endpoint.ChatMessage) Summary {
	s := Summary{Messages: len(msgs), Roles: make(map[string]int)}
	for _, m := range msgs {
		s.Characters += len(m.Content)
		s.Roles[m.Role]++
	}
	return s
}
