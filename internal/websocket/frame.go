package websocket

import (
	"encoding/json"
	"time"
)

// Frame is the JSON envelope of every event on the wire.
type Frame struct {
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Encode marshals data under the given event name.
func Encode(event string, data interface{}) ([]byte, error) {
	frame := Frame{Event: event, Timestamp: time.Now()}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		frame.Data = raw
	}
	return json.Marshal(frame)
}

// Decode parses an inbound envelope. The payload stays raw for the dispatcher.
func Decode(raw []byte) (Frame, error) {
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return Frame{}, ErrInvalidFrame
	}
	if frame.Event == "" {
		return Frame{}, ErrInvalidFrame
	}
	return frame, nil
}
