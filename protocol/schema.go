package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// Schemas returns a JSON Schema for every wire record, keyed by its type
// discriminant. The outbound record is keyed "message".
func Schemas() (map[string]json.RawMessage, error) {
	records := map[string]interface{}{
		string(EventTypeReady):         ReadyEvent{},
		string(EventTypeChunk):         ChunkEvent{},
		string(EventTypeToolCall):      ToolCallEvent{},
		string(EventTypeToolResult):    ToolResultEvent{},
		string(EventTypeDone):          DoneEvent{},
		string(EventTypeError):         ErrorEvent{},
		string(EventTypeSecondaryTurn): SecondaryTurnEvent{},
		"message":                      UserMessage{},
	}

	reflector := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}

	out := make(map[string]json.RawMessage, len(records))
	for name, rec := range records {
		data, err := json.Marshal(reflector.Reflect(rec))
		if err != nil {
			return nil, fmt.Errorf("schema for %s: %w", name, err)
		}
		out[name] = data
	}
	return out, nil
}
