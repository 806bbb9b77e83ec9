// Package codec holds the two encoding concerns of the correlation layer:
//
//   - frame codecs, which turn a whole Request/Response/handshake frame into the
//     body of a wire frame (JSON or Binary);
//   - the payload contract (Packed), which typed request and response values
//     implement so they can ride inside a frame's opaque Data bytes.
package codec

import (
	"fmt"
	"strings"

	"github.com/loopholelabs/polyglot/v2"
)

type CodecType byte

const (
	CodecTypeJSON   CodecType = 0
	CodecTypeBinary CodecType = 1
)

// Codec serializes frames. v is always a pointer to a frame struct.
type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
	Type() CodecType // 0=JSON, 1=Binary
}

func GetCodec(codecType CodecType) Codec {
	if codecType == CodecTypeJSON {
		return &JSONCodec{}
	}

	return &BinaryCodec{}
}

// ParseCodecType maps a configuration name to a CodecType.
func ParseCodecType(name string) (CodecType, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "json":
		return CodecTypeJSON, nil
	case "", "binary", "polyglot":
		return CodecTypeBinary, nil
	default:
		return 0, fmt.Errorf("codec: unknown codec %q", name)
	}
}

func (t CodecType) String() string {
	if t == CodecTypeJSON {
		return "json"
	}
	return "binary"
}

// Packed is implemented by every request and response payload type.
// Decode must accept exactly what Encode wrote; the zero value of the type is
// what a handler observes for an empty payload.
type Packed interface {
	Encode(e *polyglot.BufferEncoder)
	Decode(d *polyglot.BufferDecoder) error
}

// Pointer constrains a type parameter to *T where *T implements Packed.
// It lets generic registration work with plain struct types.
type Pointer[T any] interface {
	*T
	Packed
}

// ExtraEncoder appends additional fields after a payload, in the same buffer.
type ExtraEncoder func(e *polyglot.BufferEncoder)

// Marshal encodes p followed by the optional extra fields.
// Each call uses its own buffer so concurrent sends never share one.
func Marshal(p Packed, extra ExtraEncoder) []byte {
	buf := polyglot.NewBuffer()
	enc := polyglot.Encoder(buf)
	if p != nil {
		p.Encode(enc)
	}
	if extra != nil {
		extra(enc)
	}
	return buf.Bytes()
}
