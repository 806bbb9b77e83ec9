package engine

import (
	"github.com/insthync/reqres/codec"
	"github.com/insthync/reqres/message"
	"github.com/loopholelabs/polyglot/v2"
)

// RequestContext describes one inbound request while its handler runs.
type RequestContext struct {
	Type        uint16
	RequestID   uint32
	Sender      message.PeerID
	AsAuthority bool // True when the request arrived at the authority role
	Handler     *Handler

	// Data is the raw payload. Reader starts at its beginning; once the typed
	// request has been decoded it is positioned at any extra fields the sender
	// appended.
	Data   []byte
	Reader *polyglot.BufferDecoder
}

// ResponseContext describes how a call completed.
type ResponseContext struct {
	RequestID uint32
	Handler   *Handler

	// Remote is true when the result came from a response frame. Sender is only
	// meaningful in that case.
	Remote bool
	Sender message.PeerID

	Data   []byte
	Reader *polyglot.BufferDecoder // Nil unless Remote
}

// Responder sends the single response for a request. Calls after the first
// are ignored.
type Responder func(code message.ResponseCode, resp codec.Packed, extra codec.ExtraEncoder)

// Callback receives the outcome of an outgoing call exactly once. resp holds the
// decoded response value, or the response type's zero value when the code
// carries no payload.
type Callback func(ctx *ResponseContext, code message.ResponseCode, resp any)

// RequestHandlerFunc is the type-erased form of a request handler, the unit
// that middleware wraps.
type RequestHandlerFunc func(ctx *RequestContext, respond Responder) error

// Middleware decorates a RequestHandlerFunc.
type Middleware func(next RequestHandlerFunc) RequestHandlerFunc
