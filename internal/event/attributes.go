package event

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// MarshalAttributes serializes an attribute payload. Nil maps become "{}".
func MarshalAttributes(attrs map[string]any) ([]byte, error) {
	if attrs == nil {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(attrs)
	if err != nil {
		return nil, fmt.Errorf("marshal attributes: %w", err)
	}
	return b, nil
}

// UnmarshalAttributes decodes a stored payload. Numbers stay json.Number so
// they round-trip without float rounding.
func UnmarshalAttributes(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var attrs map[string]any
	if err := dec.Decode(&attrs); err != nil {
		return nil, fmt.Errorf("unmarshal attributes: %w", err)
	}
	if attrs == nil {
		attrs = map[string]any{}
	}
	return attrs, nil
}
