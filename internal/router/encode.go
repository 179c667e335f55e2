package router

import (
	"encoding/json"
	"fmt"
)

// Encode wraps data in a feed envelope of the given type.
func Encode(typ string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", typ, err)
	}
	return json.Marshal(envelope{Type: typ, Data: raw})
}
