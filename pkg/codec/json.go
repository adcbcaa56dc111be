package codec

import (
	"encoding/json"
	"fmt"
)

// JSON encodes entities with encoding/json
type JSON struct{}

// Name returns the codec identifier
func (JSON) Name() string {
	return NameJSON
}

// Marshal encodes v
func (JSON) Marshal(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("json marshal: %w", err)
	}
	return data, nil
}

// Unmarshal decodes data into v
func (JSON) Unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("json unmarshal: %w", err)
	}
	return nil
}
