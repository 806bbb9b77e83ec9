package codec

import (
	"encoding/json"
)

// JSONCodec serializes frames with encoding/json. Payload bytes inside a frame
// end up base64 encoded, which is fine for debugging and tooling.
type JSONCodec struct{}

func (c *JSONCodec) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (c *JSONCodec) Decode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (c *JSONCodec) Type() CodecType {
	return CodecTypeJSON
}
