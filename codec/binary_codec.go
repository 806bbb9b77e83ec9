package codec

import (
	"errors"
	"fmt"

	"github.com/loopholelabs/polyglot/v2"
)

var ErrNotPacked = errors.New("codec: value does not implement Packed")

// BinaryCodec serializes frames with polyglot. v must implement Packed.
type BinaryCodec struct{}

func (c *BinaryCodec) Encode(v any) ([]byte, error) {
	p, ok := v.(Packed)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrNotPacked, v)
	}
	return Marshal(p, nil), nil
}

func (c *BinaryCodec) Decode(data []byte, v any) error {
	p, ok := v.(Packed)
	if !ok {
		return fmt.Errorf("%w: %T", ErrNotPacked, v)
	}
	return p.Decode(polyglot.Decoder(data))
}

func (c *BinaryCodec) Type() CodecType {
	return CodecTypeBinary
}
