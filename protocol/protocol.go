// Package protocol implements the binary frame used by the TCP transports.
//
// A fixed 10-byte header is followed by a variable-length body; the receiver
// reads the header first to learn the body length, then reads exactly that many
// bytes.
//
// Frame format:
//
//	0      3  4  5  6         10
//	┌──────┬──┬──┬──┬─────────┬───────────────┐
//	│magic │v │ct│mt│ bodyLen │    body ...    │
//	│ rqr  │01│  │  │ uint32  │ bodyLen bytes  │
//	└──────┴──┴──┴──┴─────────┴───────────────┘
//
// The body is a Hello, Welcome, Request or Response frame serialized with the
// codec named in the header. Heartbeats have no body.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Magic bytes "rqr" reject connections that do not speak this protocol.
const (
	MagicByte1 byte = 0x72 // 'r'
	MagicByte2 byte = 0x71 // 'q'
	MagicByte3 byte = 0x72 // 'r'
	Version    byte = 0x01
	HeaderSize int  = 10 // 3 (magic) + 1 (version) + 1 (codec) + 1 (msgType) + 4 (bodyLen)

	// MaxBodyLen bounds the memory a single frame may claim.
	MaxBodyLen uint32 = 8 * 1024 * 1024
)

// Codec type constants, mirrored from the codec package to avoid an import.
const (
	CodecTypeJSON   byte = 0
	CodecTypeBinary byte = 1
)

var ErrBodyTooLarge = errors.New("protocol: frame body too large")

// MsgType tells the receiver how to interpret the body.
type MsgType byte

const (
	MsgTypeHello     MsgType = 0 // Peer → Authority, first frame on a connection
	MsgTypeWelcome   MsgType = 1 // Authority → Peer, answer to Hello
	MsgTypeRequest   MsgType = 2
	MsgTypeResponse  MsgType = 3
	MsgTypeHeartbeat MsgType = 4 // KeepAlive probe (no body)
)

func (t MsgType) String() string {
	switch t {
	case MsgTypeHello:
		return "hello"
	case MsgTypeWelcome:
		return "welcome"
	case MsgTypeRequest:
		return "request"
	case MsgTypeResponse:
		return "response"
	case MsgTypeHeartbeat:
		return "heartbeat"
	}
	return fmt.Sprintf("msgtype(%d)", byte(t))
}

// Header is the fixed frame header.
type Header struct {
	CodecType byte
	MsgType   MsgType
	BodyLen   uint32
}

// Encode writes a complete frame (header + body) to w.
// Callers sharing w between goroutines must serialize calls.
func Encode(w io.Writer, h *Header, body []byte) error {
	if uint32(len(body)) > MaxBodyLen {
		return ErrBodyTooLarge
	}
	buf := make([]byte, HeaderSize+len(body))
	buf[0], buf[1], buf[2] = MagicByte1, MagicByte2, MagicByte3
	buf[3] = Version
	buf[4] = h.CodecType
	buf[5] = byte(h.MsgType)
	binary.BigEndian.PutUint32(buf[6:10], uint32(len(body)))
	copy(buf[HeaderSize:], body)

	// One write per frame keeps header and body together on the stream.
	_, err := w.Write(buf)
	return err
}

// Decode reads a complete frame (header + body) from r.
func Decode(r io.Reader) (*Header, []byte, error) {
	headerBuf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, headerBuf); err != nil {
		return nil, nil, err
	}

	if headerBuf[0] != MagicByte1 || headerBuf[1] != MagicByte2 || headerBuf[2] != MagicByte3 {
		return nil, nil, fmt.Errorf("invalid magic number: %x", headerBuf[0:3])
	}
	if headerBuf[3] != Version {
		return nil, nil, fmt.Errorf("unsupported version: %d", headerBuf[3])
	}
	if headerBuf[4] != CodecTypeJSON && headerBuf[4] != CodecTypeBinary {
		return nil, nil, fmt.Errorf("unsupported codec type: %d", headerBuf[4])
	}
	msgType := MsgType(headerBuf[5])
	if msgType > MsgTypeHeartbeat {
		return nil, nil, fmt.Errorf("unsupported message type: %d", headerBuf[5])
	}

	bodyLen := binary.BigEndian.Uint32(headerBuf[6:10])
	if bodyLen > MaxBodyLen {
		return nil, nil, ErrBodyTooLarge
	}
	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, nil, err
	}

	return &Header{
		CodecType: headerBuf[4],
		MsgType:   msgType,
		BodyLen:   bodyLen,
	}, body, nil
}
