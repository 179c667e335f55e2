package protocol

import (
	"encoding/json"
	"fmt"
)

// ErrorMessage is the data of every ERROR frame sent for a bad inbound frame.
const ErrorMessage = "Error processing message"

// Frame is an outbound message.
type Frame struct {
	Nature Nature `json:"nature"`
	Data   any    `json:"data"`
}

// EncodeFrame serialises an outbound frame.
func EncodeFrame(nature Nature, data any) ([]byte, error) {
	b, err := json.Marshal(Frame{Nature: nature, Data: data})
	if err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", nature, err)
	}
	return b, nil
}

// ErrorFrame returns the encoded ERROR frame.
func ErrorFrame() []byte {
	b, _ := json.Marshal(Frame{Nature: NatureError, Data: ErrorMessage})
	return b
}

// DecodeFrame parses an outbound frame, leaving Data raw. Used by clients and tests.
func DecodeFrame(data []byte) (Nature, json.RawMessage, error) {
	var wire struct {
		Nature Nature          `json:"nature"`
		Data   json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return wire.Nature, wire.Data, nil
}
