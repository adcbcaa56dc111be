package codec

import (
	"bytes"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Msgpack encodes entities with MessagePack. Struct fields are encoded by
// name, so `msgpack` tags control the wire names.
type Msgpack struct{}

// Name returns the codec identifier
func (Msgpack) Name() string {
	return NameMsgpack
}

// Marshal encodes v. Map keys are sorted so equal values always encode to
// equal bytes; storage digests depend on it.
func (Msgpack) Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("msgpack marshal: %w", err)
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes data into v
func (Msgpack) Unmarshal(data []byte, v any) error {
	if err := msgpack.Unmarshal(data, v); err != nil {
		return fmt.Errorf("msgpack unmarshal: %w", err)
	}
	return nil
}
