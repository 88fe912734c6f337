package types

import (
	"encoding/json"
	"fmt"
)

// MessagesRequest is an inbound Messages API request. Only the fields the
// proxy inspects are typed; every other top-level field is kept verbatim in
// Extra and written back by MarshalJSON.
type MessagesRequest struct {
	Model     string          `json:"model"`
	Messages  []Message       `json:"messages"`
	System    json.RawMessage `json:"system,omitempty"`
	MaxTokens int             `json:"max_tokens,omitempty"`
	Stream    bool            `json:"stream,omitempty"`
	Tools     json.RawMessage `json:"tools,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

// Message is one conversation turn. Content is either a string or an array
// of content blocks and is left undecoded.
type Message struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

var knownFields = map[string]bool{
	"model":      true,
	"messages":   true,
	"system":     true,
	"max_tokens": true,
	"stream":     true,
	"tools":      true,
}

type messagesRequestAlias MessagesRequest

// UnmarshalJSON decodes the known fields and keeps every other top-level
// field verbatim in Extra.
func (r *MessagesRequest) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	var alias messagesRequestAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	*r = MessagesRequest(alias)
	for k, v := range fields {
		if knownFields[k] {
			continue
		}
		if r.Extra == nil {
			r.Extra = make(map[string]json.RawMessage)
		}
		r.Extra[k] = v
	}
	return nil
}

// MarshalJSON encodes the typed fields and merges Extra back in, so unknown
// fields survive a round trip.
func (r MessagesRequest) MarshalJSON() ([]byte, error) {
	known, err := json.Marshal(messagesRequestAlias(r))
	if err != nil {
		return nil, err
	}
	if len(r.Extra) == 0 {
		return known, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(known, &fields); err != nil {
		return nil, err
	}
	for k, v := range r.Extra {
		if !knownFields[k] {
			fields[k] = v
		}
	}
	return json.Marshal(fields)
}

// ParseMessagesRequest decodes a request body.
func ParseMessagesRequest(body []byte) (*MessagesRequest, error) {
	var req MessagesRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("invalid request body: %w", err)
	}
	return &req, nil
}

// UserInitiated reports whether the last message came from the user.
func (r *MessagesRequest) UserInitiated() bool {
	if len(r.Messages) == 0 {
		return false
	}
	return r.Messages[len(r.Messages)-1].Role == "user"
}
