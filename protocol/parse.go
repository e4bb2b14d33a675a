package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ProtocolError represents a line that could not be decoded into an event.
type ProtocolError struct {
	Cause   error
	Message string
	Line    string
}

func (e *ProtocolError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("protocol error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("protocol error: %s", e.Message)
}

func (e *ProtocolError) Unwrap() error {
	return e.Cause
}

// rawRecord is used for initial type discrimination.
type rawRecord struct {
	Type *EventType `json:"type"`
}

// wireToolCall mirrors ToolCallEvent before argument normalization.
type wireToolCall struct {
	Arguments map[string]json.RawMessage `json:"arguments"`
	Name      string                     `json:"name"`
}

// ParseEvent decodes one line into a typed event.
//
// Malformed JSON, a missing discriminant, or an invalid payload for a known
// discriminant yield a *ProtocolError. Unknown discriminants yield (nil, nil)
// so newer agents can add record types without breaking older hosts.
func ParseEvent(line []byte) (Event, error) {
	var raw rawRecord
	if err := json.Unmarshal(line, &raw); err != nil {
		return nil, &ProtocolError{Message: "failed to parse record", Line: string(line), Cause: err}
	}
	if raw.Type == nil {
		return nil, &ProtocolError{Message: "record has no type", Line: string(line)}
	}

	switch *raw.Type {
	case EventTypeReady:
		return ReadyEvent{Type: EventTypeReady}, nil

	case EventTypeChunk:
		var e ChunkEvent
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, payloadError(line, *raw.Type, err)
		}
		return e, nil

	case EventTypeToolCall:
		var w wireToolCall
		if err := json.Unmarshal(line, &w); err != nil {
			return nil, payloadError(line, *raw.Type, err)
		}
		if w.Name == "" {
			return nil, &ProtocolError{Message: "tool_call has no name", Line: string(line)}
		}
		return ToolCallEvent{
			Type:      EventTypeToolCall,
			Name:      w.Name,
			Arguments: normalizeArguments(w.Arguments),
		}, nil

	case EventTypeToolResult:
		var e ToolResultEvent
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, payloadError(line, *raw.Type, err)
		}
		return e, nil

	case EventTypeDone:
		return DoneEvent{Type: EventTypeDone}, nil

	case EventTypeError:
		var e ErrorEvent
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, payloadError(line, *raw.Type, err)
		}
		return e, nil

	case EventTypeSecondaryTurn:
		var e SecondaryTurnEvent
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, payloadError(line, *raw.Type, err)
		}
		if e.Direction != DirectionIncoming && e.Direction != DirectionOutgoing {
			return nil, &ProtocolError{
				Message: fmt.Sprintf("unknown %s direction %q", *raw.Type, e.Direction),
				Line:    string(line),
			}
		}
		return e, nil

	default:
		return nil, nil
	}
}

func payloadError(line []byte, t EventType, err error) *ProtocolError {
	return &ProtocolError{
		Message: fmt.Sprintf("failed to parse %s record", t),
		Line:    string(line),
		Cause:   err,
	}
}

// normalizeArguments flattens tool arguments to strings. JSON strings are
// unquoted; any other value keeps its compact JSON text.
func normalizeArguments(in map[string]json.RawMessage) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			out[k] = s
			continue
		}
		var compact bytes.Buffer
		if err := json.Compact(&compact, v); err != nil {
			out[k] = string(v)
			continue
		}
		out[k] = compact.String()
	}
	return out
}
