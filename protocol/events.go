// Package protocol defines the line-delimited JSON wire protocol spoken by
// the agent sidecar process: one JSON object per line on the child's
// standard streams, discriminated by its "type" field.
package protocol

// EventType discriminates inbound records.
type EventType string

const (
	EventTypeReady         EventType = "ready"
	EventTypeChunk         EventType = "chunk"
	EventTypeToolCall      EventType = "tool_call"
	EventTypeToolResult    EventType = "tool_result"
	EventTypeDone          EventType = "done"
	EventTypeError         EventType = "error"
	EventTypeSecondaryTurn EventType = "telegram_message"
)

// Direction is the direction of a secondary-channel turn event.
type Direction string

const (
	// DirectionIncoming is a message received from the bridged chat.
	DirectionIncoming Direction = "incoming"
	// DirectionOutgoing is the agent's reply sent back to the bridged chat.
	DirectionOutgoing Direction = "outgoing"
)

// Event is the sealed union of inbound records. Use a type switch over the
// concrete *Event types; ParseEvent never returns any other implementation.
type Event interface {
	EventType() EventType
	isEvent()
}

// ReadyEvent signals that the agent finished initializing and accepts input.
// Example: {"type":"ready"}
type ReadyEvent struct {
	Type EventType `json:"type" jsonschema:"enum=ready"`
}

// ChunkEvent is a streaming text delta on the primary channel.
// Example: {"type":"chunk","text":"Hel"}
type ChunkEvent struct {
	Type EventType `json:"type" jsonschema:"enum=chunk"`
	Text string    `json:"text"`
}

// ToolCallEvent announces a tool invocation on the primary channel.
// Example: {"type":"tool_call","name":"calendar_list","arguments":{"day":"today"}}
type ToolCallEvent struct {
	Arguments map[string]string `json:"arguments,omitempty"`
	Type      EventType         `json:"type" jsonschema:"enum=tool_call"`
	Name      string            `json:"name"`
}

// ToolResultEvent reports the outcome of the most recent tool call.
// Example: {"type":"tool_result","success":false,"error":"permission denied"}
type ToolResultEvent struct {
	// Success is nil when the field was absent on the wire.
	Success *bool     `json:"success,omitempty"`
	Type    EventType `json:"type" jsonschema:"enum=tool_result"`
	Error   string    `json:"error,omitempty"`
}

// Succeeded reports whether the tool call succeeded. A missing success
// field counts as failure.
func (e ToolResultEvent) Succeeded() bool {
	return e.Success != nil && *e.Success
}

// DoneEvent ends the current primary turn successfully.
// Example: {"type":"done"}
type DoneEvent struct {
	Type EventType `json:"type" jsonschema:"enum=done"`
}

// ErrorEvent fails the current primary turn, or reports a standalone error
// when no turn is open.
// Example: {"type":"error","text":"Invalid JSON input"}
type ErrorEvent struct {
	Type EventType `json:"type" jsonschema:"enum=error"`
	Text string    `json:"text,omitempty"`
}

// SecondaryTurnEvent is a bridged-chat message, either received by the agent
// (incoming) or sent by it (outgoing).
// Example: {"type":"telegram_message","direction":"incoming","text":"hi","chat_id":"42"}
type SecondaryTurnEvent struct {
	Type      EventType `json:"type" jsonschema:"enum=telegram_message"`
	Direction Direction `json:"direction" jsonschema:"enum=incoming,enum=outgoing"`
	Text      string    `json:"text"`
	ImageURL  string    `json:"imageUrl,omitempty"`
	ChatID    string    `json:"chat_id,omitempty"`
}

func (ReadyEvent) EventType() EventType         { return EventTypeReady }
func (ChunkEvent) EventType() EventType         { return EventTypeChunk }
func (ToolCallEvent) EventType() EventType      { return EventTypeToolCall }
func (ToolResultEvent) EventType() EventType    { return EventTypeToolResult }
func (DoneEvent) EventType() EventType          { return EventTypeDone }
func (ErrorEvent) EventType() EventType         { return EventTypeError }
func (SecondaryTurnEvent) EventType() EventType { return EventTypeSecondaryTurn }

func (ReadyEvent) isEvent()         {}
func (ChunkEvent) isEvent()         {}
func (ToolCallEvent) isEvent()      {}
func (ToolResultEvent) isEvent()    {}
func (DoneEvent) isEvent()          {}
func (ErrorEvent) isEvent()         {}
func (SecondaryTurnEvent) isEvent() {}

// UserMessage is the only outbound record.
// Example: {"type":"message","text":"What's on my calendar?"}
type UserMessage struct {
	Type string `json:"type" jsonschema:"enum=message"`
	Text string `json:"text"`
}

// NewUserMessage builds the outbound record for a user-submitted text.
func NewUserMessage(text string) UserMessage {
	return UserMessage{Type: "message", Text: text}
}

// SessionStartType tags the marker record below.
const SessionStartType = "session_start"

// SessionStart never crosses the pipe. A recording gets one each time a new
// agent process starts, so a replay can drop turns the old process left open.
// Example: {"type":"session_start","pid":4242}
type SessionStart struct {
	Type string `json:"type"`
	PID  int    `json:"pid,omitempty"`
}

// NewSessionStart builds the marker for the agent process pid.
func NewSessionStart(pid int) SessionStart {
	return SessionStart{Type: SessionStartType, PID: pid}
}
