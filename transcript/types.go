// Package transcript holds the session-scoped conversation transcript: an
// ordered collection of messages, mutable in place by id, plus the per-channel
// pointers to the message each channel is currently streaming into.
package transcript

import "time"

// ID uniquely identifies a message for the lifetime of a store.
type ID string

// Role is the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Status is the lifecycle state of a message.
type Status string

const (
	StatusStreaming Status = "streaming"
	StatusComplete  Status = "complete"
	StatusError     Status = "error"
)

// IsTerminal returns true if the message will not be mutated by further
// stream events.
func (s Status) IsTerminal() bool {
	return s == StatusComplete || s == StatusError
}

// Channel identifies which conversation a message belongs to.
type Channel string

const (
	// ChannelPrimary is the interactive, user-facing conversation.
	ChannelPrimary Channel = "primary"
	// ChannelSecondary is the externally triggered conversation bridged from
	// a chat bot.
	ChannelSecondary Channel = "secondary"
)

// Channels lists every channel in a stable order.
var Channels = []Channel{ChannelPrimary, ChannelSecondary}

// ToolResult is the outcome attached to a tool call.
type ToolResult struct {
	Error   string `json:"error,omitempty"`
	Success bool   `json:"success"`
}

// ToolCall is one tool invocation made during an assistant turn.
type ToolCall struct {
	Arguments map[string]string `json:"arguments,omitempty"`
	Result    *ToolResult       `json:"result,omitempty"`
	Name      string            `json:"name"`
}

// Media references an attachment shown alongside a message.
type Media struct {
	URL string `json:"url"`
}

// Message is one transcript entry.
type Message struct {
	Timestamp time.Time  `json:"timestamp"`
	Media     *Media     `json:"media,omitempty"`
	ID        ID         `json:"id"`
	Role      Role       `json:"role"`
	Text      string     `json:"text"`
	Status    Status     `json:"status"`
	Channel   Channel    `json:"channel"`
	ChatID    string     `json:"chat_id,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// LastToolCall returns the most recent tool call, or nil if there is none.
func (m *Message) LastToolCall() *ToolCall {
	if len(m.ToolCalls) == 0 {
		return nil
	}
	return &m.ToolCalls[len(m.ToolCalls)-1]
}

// Clone returns a deep copy of m.
func (m Message) Clone() Message {
	if m.Media != nil {
		media := *m.Media
		m.Media = &media
	}
	if m.ToolCalls != nil {
		calls := make([]ToolCall, len(m.ToolCalls))
		for i, tc := range m.ToolCalls {
			calls[i] = tc.clone()
		}
		m.ToolCalls = calls
	}
	return m
}

func (tc ToolCall) clone() ToolCall {
	if tc.Arguments != nil {
		args := make(map[string]string, len(tc.Arguments))
		for k, v := range tc.Arguments {
			args[k] = v
		}
		tc.Arguments = args
	}
	if tc.Result != nil {
		res := *tc.Result
		tc.Result = &res
	}
	return tc
}

// --- Observer / Event -------------------------------------------------------

// Observer receives notifications after the store mutates.
type Observer interface {
	OnTranscriptEvent(event Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Event)

// OnTranscriptEvent calls f(event).
func (f ObserverFunc) OnTranscriptEvent(event Event) { f(event) }

// Event is the interface for store mutation notifications.
type Event interface {
	transcriptEvent() // sealed marker
}

// MessageAppended fires when a message is added at the end.
type MessageAppended struct {
	ID    ID
	Index int
}

func (MessageAppended) transcriptEvent() {}

// MessageUpdated fires when a message is mutated in place.
type MessageUpdated struct {
	ID ID
}

func (MessageUpdated) transcriptEvent() {}

// TurnOpened fires when a channel starts streaming into a message.
type TurnOpened struct {
	Channel Channel
	ID      ID
}

func (TurnOpened) transcriptEvent() {}

// TurnClosed fires when a channel's turn pointer is cleared. Finalized is
// false when the pointer was dropped without a terminal event (disconnect).
type TurnClosed struct {
	Channel   Channel
	ID        ID
	Finalized bool
}

func (TurnClosed) transcriptEvent() {}

// Cleared fires when the whole transcript is emptied.
type Cleared struct{}

func (Cleared) transcriptEvent() {}
