// Package engine implements the request/response correlation engine.
//
// A Handler turns a fire-and-forget transport into request/response calls:
//
//	CreateAndSendRequest: check registration → encode → allocate ID → pending table (+ timer) → Sender
//	ReceiveRequest:       lookup invoker → middleware → decode → user handler → Responder → Sender
//	ReceiveResponse:      pending table remove (ID and sender) → decode → registered handler → callback
//
// Every call completes exactly once: the pending table's remove is the only way
// to claim a call, and both the response path and the timer path go through it.
package engine

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/insthync/reqres/codec"
	"github.com/insthync/reqres/message"
	"github.com/loopholelabs/polyglot/v2"
	"go.uber.org/zap"
)

var (
	ErrUnregisteredType    = errors.New("engine: request type not registered")
	ErrRequestTypeMismatch = errors.New("engine: request value does not match registered type")
	ErrMalformedPayload    = errors.New("engine: malformed payload")
)

// Sender is the outbound half of the transport.
//
//go:generate mockgen -destination mock_sender_test.go -package engine . Sender
type Sender interface {
	SendToAuthority(msg message.Message) error
	SendToPeer(peer message.PeerID, msg message.Message) error
}

// Handler is one correlation engine. A process typically owns two, one per role.
type Handler struct {
	name     string
	sender   Sender
	log      *zap.Logger
	registry *typeRegistry
	pending  *pendingTable
	nextID   atomic.Uint32

	mwMu        sync.RWMutex
	middlewares []Middleware
}

type Option func(*Handler)

func WithLogger(l *zap.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.log = l
		}
	}
}

// WithName labels the engine in log output, e.g. "authority" or "peer".
func WithName(name string) Option {
	return func(h *Handler) {
		h.name = name
	}
}

func NewHandler(sender Sender, opts ...Option) *Handler {
	h := &Handler{
		name:     "engine",
		sender:   sender,
		log:      zap.NewNop(),
		registry: newTypeRegistry(),
		pending:  newPendingTable(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.log = h.log.With(zap.String("role", h.name))
	return h
}

func (h *Handler) Name() string {
	return h.name
}

// Pending returns the number of outstanding calls.
func (h *Handler) Pending() int {
	return h.pending.len()
}

// Use appends request middleware. The first middleware added runs outermost.
func (h *Handler) Use(mws ...Middleware) {
	h.mwMu.Lock()
	defer h.mwMu.Unlock()
	h.middlewares = append(h.middlewares, mws...)
}

func (h *Handler) RegisterRequestInvoker(requestType uint16, inv RequestInvoker) {
	h.registry.setRequest(requestType, inv)
}

func (h *Handler) RegisterResponseInvoker(requestType uint16, inv ResponseInvoker) {
	h.registry.setResponse(requestType, inv)
}

func (h *Handler) UnregisterRequestHandler(requestType uint16) {
	h.registry.deleteRequest(requestType)
}

func (h *Handler) UnregisterResponseHandler(requestType uint16) {
	h.registry.deleteResponse(requestType)
}

// CreateAndSendRequest sends request to recipient and arranges for callback to
// run exactly once with the outcome. A non-positive timeout arms no timer.
//
// The returned error only reports whether the request could be sent. A request
// type without a response invoker, or a request value of the wrong type, fails
// before anything reaches the transport: callback runs synchronously with
// Unimplemented.
func (h *Handler) CreateAndSendRequest(
	recipient message.PeerID,
	requestType uint16,
	request codec.Packed,
	extra codec.ExtraEncoder,
	callback Callback,
	timeout time.Duration,
) error {
	invoker, ok := h.registry.responseInvoker(requestType)
	if !ok {
		h.log.Error("cannot create request, type not registered", zap.Uint16("type", requestType))
		h.reject(callback)
		return fmt.Errorf("%w: %d", ErrUnregisteredType, requestType)
	}
	if !invoker.AcceptsRequest(request) {
		h.log.Error("cannot create request, invalid request value",
			zap.Uint16("type", requestType), zap.String("value", fmt.Sprintf("%T", request)))
		h.reject(callback)
		return fmt.Errorf("%w: type %d, got %T", ErrRequestTypeMismatch, requestType, request)
	}

	// Encode before the call is pending so an encoder panic leaves nothing behind.
	req := &message.Request{
		Type: requestType,
		Data: codec.Marshal(request, extra),
	}
	call := &pendingCall{invoker: invoker, callback: callback, recipient: recipient}
	for {
		// IDs wrap; skip any that are still outstanding.
		call.id = h.nextID.Add(1) - 1
		if h.pending.add(call, timeout, h.expire) {
			break
		}
	}
	req.ID = call.id

	var err error
	if recipient.IsAuthority() {
		err = h.sender.SendToAuthority(req)
	} else {
		err = h.sender.SendToPeer(recipient, req)
	}
	if err != nil {
		h.log.Warn("request send failed", zap.Uint32("id", call.id), zap.Stringer("to", recipient), zap.Error(err))
		if c, ok := h.pending.removeIfPresent(call.id, call); ok {
			c.stop()
			h.complete(c, &ResponseContext{RequestID: c.id, Handler: h}, message.Unreachable)
		}
		return fmt.Errorf("send request %d to %s: %w", call.id, recipient, err)
	}
	return nil
}

// reject reports a request that never left this process. The ID is consumed
// only so the callback sees a unique value.
func (h *Handler) reject(callback Callback) {
	if callback == nil {
		return
	}
	id := h.nextID.Add(1) - 1
	callback(&ResponseContext{RequestID: id, Handler: h}, message.Unimplemented, message.Empty{})
}

func (h *Handler) expire(call *pendingCall) {
	if _, ok := h.pending.removeIfPresent(call.id, call); !ok {
		return
	}
	h.log.Debug("request timed out", zap.Uint32("id", call.id))
	h.complete(call, &ResponseContext{RequestID: call.id, Handler: h}, message.Timeout)
}

func (h *Handler) complete(call *pendingCall, ctx *ResponseContext, code message.ResponseCode) error {
	return call.invoker.InvokeResponse(ctx, code, call.callback)
}

// ReceiveRequest dispatches an inbound request frame. The requester always gets
// exactly one response frame: the handler's, Unimplemented for an unknown tag,
// or InternalError when the payload cannot be decoded.
func (h *Handler) ReceiveRequest(asAuthority bool, sender message.PeerID, req *message.Request) error {
	invoker, ok := h.registry.requestInvoker(req.Type)
	if !ok {
		h.log.Warn("cannot proceed request, type not registered",
			zap.Uint16("type", req.Type), zap.Stringer("from", sender))
		return h.reply(asAuthority, sender, &message.Response{ID: req.ID, Code: message.Unimplemented})
	}

	ctx := &RequestContext{
		Type:        req.Type,
		RequestID:   req.ID,
		Sender:      sender,
		AsAuthority: asAuthority,
		Handler:     h,
		Data:        req.Data,
		Reader:      polyglot.Decoder(req.Data),
	}
	respond := h.responder(ctx)
	if err := h.chain(invoker.InvokeRequest)(ctx, respond); err != nil {
		respond(message.InternalError, nil, nil)
		return fmt.Errorf("request %d type %d from %s: %w", req.ID, req.Type, sender, err)
	}
	return nil
}

func (h *Handler) chain(final RequestHandlerFunc) RequestHandlerFunc {
	h.mwMu.RLock()
	defer h.mwMu.RUnlock()
	next := final
	for i := len(h.middlewares) - 1; i >= 0; i-- {
		next = h.middlewares[i](next)
	}
	return next
}

// responder builds the one-shot Responder for ctx. Responses are addressed
// symmetrically: the authority answers the originating peer, a peer answers
// the authority.
func (h *Handler) responder(ctx *RequestContext) Responder {
	var done atomic.Bool
	return func(code message.ResponseCode, resp codec.Packed, extra codec.ExtraEncoder) {
		if !done.CompareAndSwap(false, true) {
			h.log.Debug("ignoring duplicate response", zap.Uint32("id", ctx.RequestID), zap.Stringer("code", code))
			return
		}
		frame := &message.Response{ID: ctx.RequestID, Code: code}
		if code.CarriesPayload() && (resp != nil || extra != nil) {
			frame.Data = codec.Marshal(resp, extra)
		}
		if err := h.reply(ctx.AsAuthority, ctx.Sender, frame); err != nil {
			h.log.Warn("response send failed", zap.Uint32("id", ctx.RequestID), zap.Error(err))
		}
	}
}

func (h *Handler) reply(asAuthority bool, sender message.PeerID, resp *message.Response) error {
	if asAuthority {
		return h.sender.SendToPeer(sender, resp)
	}
	return h.sender.SendToAuthority(resp)
}

// ReceiveResponse completes the pending call matching resp.ID. Responses for
// calls that already completed, that never existed, or that come from anyone
// but the call's recipient are dropped.
func (h *Handler) ReceiveResponse(sender message.PeerID, resp *message.Response) error {
	call, ok := h.pending.removeFrom(resp.ID, sender)
	if !ok {
		h.log.Debug("dropping response with no pending call",
			zap.Uint32("id", resp.ID), zap.Stringer("from", sender), zap.Stringer("code", resp.Code))
		return nil
	}
	call.stop()

	ctx := &ResponseContext{
		RequestID: resp.ID,
		Handler:   h,
		Remote:    true,
		Sender:    sender,
		Data:      resp.Data,
		Reader:    polyglot.Decoder(resp.Data),
	}
	if err := h.complete(call, ctx, resp.Code); err != nil {
		return fmt.Errorf("response %d from %s: %w", resp.ID, sender, err)
	}
	return nil
}
