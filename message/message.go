// Package message defines the frames exchanged by the correlation layer.
//
// Only two units ever travel for a call: a Request frame (type tag, request ID,
// opaque payload) and a Response frame (request ID, response code, opaque payload).
// The payload bytes are produced and consumed by the typed invokers in the engine
// package; everything in here treats them as opaque.
package message

import (
	"fmt"

	"github.com/loopholelabs/polyglot/v2"
)

// PeerID identifies a participant. AuthorityID addresses the authority.
type PeerID uint64

// AuthorityID is the reserved identity of the authority.
const AuthorityID PeerID = 0

// IsAuthority reports whether id addresses the authority.
func (id PeerID) IsAuthority() bool {
	return id == AuthorityID
}

func (id PeerID) String() string {
	if id.IsAuthority() {
		return "authority"
	}
	return fmt.Sprintf("peer-%d", uint64(id))
}

// ResponseCode classifies the outcome delivered with every completed call.
type ResponseCode uint8

const (
	Success       ResponseCode = 0
	Unimplemented ResponseCode = 1 // No handler registered for the tag, or request type mismatch
	Timeout       ResponseCode = 2 // No response within the armed window
	RateLimited   ResponseCode = 3
	InternalError ResponseCode = 4 // Handler panicked or payload could not be decoded
	Unreachable   ResponseCode = 5 // The transport refused the request frame

	// ApplicationCodeStart is the first code free for handler-defined failures.
	ApplicationCodeStart ResponseCode = 16
)

// CarriesPayload reports whether frames with this code may hold payload bytes.
// Timeout and Unimplemented never do.
func (c ResponseCode) CarriesPayload() bool {
	return c != Timeout && c != Unimplemented
}

func (c ResponseCode) String() string {
	switch c {
	case Success:
		return "Success"
	case Unimplemented:
		return "Unimplemented"
	case Timeout:
		return "Timeout"
	case RateLimited:
		return "RateLimited"
	case InternalError:
		return "InternalError"
	case Unreachable:
		return "Unreachable"
	}
	if c >= ApplicationCodeStart {
		return fmt.Sprintf("Application(%d)", uint8(c))
	}
	return fmt.Sprintf("Reserved(%d)", uint8(c))
}

// Message is implemented by every frame the transport may carry.
type Message interface {
	Encode(e *polyglot.BufferEncoder)
	Decode(d *polyglot.BufferDecoder) error
}

// Request carries one call to a remote handler.
type Request struct {
	Type uint16 `json:"type"` // Request type tag, selects the handler pair
	ID   uint32 `json:"id"`   // Allocated by the sending engine, echoed in the response
	Data []byte `json:"data"` // Encoded request payload followed by any extra bytes
}

func (r *Request) Encode(e *polyglot.BufferEncoder) {
	e.Uint32(uint32(r.Type)).Uint32(r.ID).Bytes(r.Data)
}

func (r *Request) Decode(d *polyglot.BufferDecoder) error {
	typ, err := d.Uint32()
	if err != nil {
		return fmt.Errorf("request type: %w", err)
	}
	if typ > 0xffff {
		return fmt.Errorf("request type %d out of range", typ)
	}
	r.Type = uint16(typ)
	if r.ID, err = d.Uint32(); err != nil {
		return fmt.Errorf("request id: %w", err)
	}
	if r.Data, err = d.Bytes(nil); err != nil {
		return fmt.Errorf("request data: %w", err)
	}
	return nil
}

// Response answers exactly one Request, matched by ID.
type Response struct {
	ID   uint32       `json:"id"`
	Code ResponseCode `json:"code"`
	Data []byte       `json:"data"`
}

func (r *Response) Encode(e *polyglot.BufferEncoder) {
	e.Uint32(r.ID).Uint8(uint8(r.Code)).Bytes(r.Data)
}

func (r *Response) Decode(d *polyglot.BufferDecoder) error {
	var err error
	if r.ID, err = d.Uint32(); err != nil {
		return fmt.Errorf("response id: %w", err)
	}
	code, err := d.Uint8()
	if err != nil {
		return fmt.Errorf("response code: %w", err)
	}
	r.Code = ResponseCode(code)
	if r.Data, err = d.Bytes(nil); err != nil {
		return fmt.Errorf("response data: %w", err)
	}
	return nil
}

// Empty is a payload with no fields. It is handy for requests or responses that
// only need a response code.
type Empty struct{}

func (*Empty) Encode(*polyglot.BufferEncoder) {}

func (*Empty) Decode(*polyglot.BufferDecoder) error { return nil }
