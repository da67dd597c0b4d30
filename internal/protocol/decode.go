package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrMalformedEvent is returned when a frame is not a JSON object of the expected shape.
	ErrMalformedEvent = errors.New("malformed event")
	// ErrUnknownEventType is returned when the type tag is missing or outside the known set.
	ErrUnknownEventType = errors.New("unknown event type")
)

// rawEvent is used for parsing incoming frames before type dispatch.
type rawEvent struct {
	Type EventType       `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Decode parses a server frame into an Event. Unknown tags are a decode
// failure, never a passthrough.
func Decode(data []byte) (Event, error) {
	var raw rawEvent
	if err := json.Unmarshal(data, &raw); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if raw.Type == "" {
		return Event{}, fmt.Errorf("%w: missing type", ErrUnknownEventType)
	}
	if !raw.Type.Valid() {
		return Event{}, fmt.Errorf("%w: %q", ErrUnknownEventType, raw.Type)
	}

	payload := Payload{}
	trimmed := bytes.TrimSpace(raw.Data)
	if len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) {
		if trimmed[0] != '{' {
			return Event{}, fmt.Errorf("%w: data must be an object", ErrMalformedEvent)
		}
		if err := json.Unmarshal(trimmed, &payload); err != nil {
			return Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
	}

	return Event{Type: raw.Type, Data: payload}, nil
}
