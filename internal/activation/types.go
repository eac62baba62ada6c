// Package activation records and reconstructs agent response cycles.
//
// An activation is one full response cycle: the trigger that started
// it, every LLM completion produced while handling it (including
// tool calls, tool results, and completions that never sent a visible
// message), and any invisible context attached to specific messages.
// Activations are built incrementally in the [Registry] while live,
// written to one JSON file each by the [Store] when they complete, and
// read back on channel load so the transcript renderer can re-attach
// invisible content to the messages that still exist on the chat
// platform.
package activation

import (
	"encoding/json"
	"time"
)

// TriggerType identifies what kind of event started an activation.
type TriggerType string

const (
	TriggerMessage TriggerType = "message"
	TriggerMention TriggerType = "mention"
	TriggerReply   TriggerType = "reply"
	TriggerTimer   TriggerType = "timer"
	TriggerAPI     TriggerType = "api"
	TriggerRandom  TriggerType = "random"
)

// Trigger describes the event that started an activation. It is
// immutable once the activation starts. AnchorMessageID is the message
// after which the activation's first completion logically belongs.
type Trigger struct {
	Type            TriggerType `json:"type"`
	AnchorMessageID string      `json:"anchorMessageId"`
}

// ToolCall is a tool invocation requested by a completion. Input is an
// opaque payload — this package stores it verbatim and never interprets
// it.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResult is the outcome of a tool call, matched to its call by
// CallID.
type ToolResult struct {
	CallID string `json:"callId"`
	Output string `json:"output"`
	Error  string `json:"error,omitempty"`
}

// Completion is one LLM generation step within an activation. Index is
// the completion's position in the activation's Completions slice,
// assigned at append time and never reassigned.
type Completion struct {
	Index          int          `json:"index"`
	Text           string       `json:"text"`
	SentMessageIDs []string     `json:"sentMessageIds"`
	ToolCalls      []ToolCall   `json:"toolCalls"`
	ToolResults    []ToolResult `json:"toolResults"`
}

// Phantom reports whether the completion produced no visible message —
// a thinking-only or failed-send cycle. Phantom completions are the
// ones the insertion engine splices back into rebuilt transcripts.
func (c *Completion) Phantom() bool {
	return len(c.SentMessageIDs) == 0
}

// MessageContext is invisible content spliced around a visible
// message when the transcript is rebuilt: Prefix immediately before
// the message's rendered text, Suffix (optional) immediately after.
type MessageContext struct {
	Prefix string `json:"prefix"`
	Suffix string `json:"suffix,omitempty"`
}

// UnmarshalJSON accepts both the current object form and the legacy
// bare-string form, which is equivalent to {"prefix": s}. The legacy
// shape is resolved here, at the deserialization boundary, and never
// escapes the codec.
func (m *MessageContext) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*m = MessageContext{Prefix: s}
		return nil
	}
	type plain MessageContext
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*m = MessageContext(p)
	return nil
}

// Activation is one full agent response cycle. While live it is owned
// exclusively by the [Registry] and mutated only through registry
// operations; after Complete it exists only on disk. EndedAt is the
// zero time until the activation completes.
type Activation struct {
	ID              string
	ChannelID       string
	BotID           string
	Trigger         Trigger
	Completions     []Completion
	MessageContexts map[string]MessageContext
	StartedAt       time.Time
	EndedAt         time.Time
}

// AllSentIDs returns every sent message id across all completions, in
// completion order then send order. An empty result means the
// activation is entirely phantom.
func (a *Activation) AllSentIDs() []string {
	var ids []string
	for i := range a.Completions {
		ids = append(ids, a.Completions[i].SentMessageIDs...)
	}
	return ids
}

// PhantomCount returns the number of phantom completions.
func (a *Activation) PhantomCount() int {
	n := 0
	for i := range a.Completions {
		if a.Completions[i].Phantom() {
			n++
		}
	}
	return n
}

// LiveMessages is the live-message oracle: the set of message ids that
// currently exist on the chat platform for a channel. The gateway
// client (or the ledger, after a restart) supplies it.
type LiveMessages map[string]struct{}

// NewLiveMessages builds a LiveMessages set from the given ids.
func NewLiveMessages(ids ...string) LiveMessages {
	l := make(LiveMessages, len(ids))
	for _, id := range ids {
		l[id] = struct{}{}
	}
	return l
}

// Has reports whether the message id is live.
func (l LiveMessages) Has(id string) bool {
	_, ok := l[id]
	return ok
}

// Add marks a message id as live.
func (l LiveMessages) Add(id string) {
	l[id] = struct{}{}
}
