package engine

import (
	"fmt"

	"github.com/insthync/reqres/codec"
	"github.com/insthync/reqres/message"
)

// RequestInvoker decodes an inbound request payload, runs the user's handler and
// hands the handler's answer to respond.
type RequestInvoker interface {
	InvokeRequest(ctx *RequestContext, respond Responder) error
}

// ResponseInvoker decodes a response payload and delivers it to the registered
// response handler and to the per-call callback.
type ResponseInvoker interface {
	InvokeResponse(ctx *ResponseContext, code message.ResponseCode, callback Callback) error

	// AcceptsRequest reports whether req is a non-nil value of the request type
	// this invoker's call pair was registered with.
	AcceptsRequest(req codec.Packed) bool
}

// Reply answers a typed request. extra may append fields after resp.
type Reply[Resp any] func(code message.ResponseCode, resp Resp, extra codec.ExtraEncoder)

// RequestFunc handles a typed request. It must call reply once, either before
// returning or later from any goroutine.
type RequestFunc[Req, Resp any] func(ctx *RequestContext, req Req, reply Reply[Resp])

// ResponseFunc observes every completion of a call pair, before the per-call
// callback runs.
type ResponseFunc[Resp any] func(ctx *ResponseContext, code message.ResponseCode, resp Resp)

type requestInvoker[Req, Resp any, PReq codec.Pointer[Req], PResp codec.Pointer[Resp]] struct {
	fn RequestFunc[Req, Resp]
}

func (inv *requestInvoker[Req, Resp, PReq, PResp]) InvokeRequest(ctx *RequestContext, respond Responder) error {
	var req Req
	if len(ctx.Data) > 0 {
		if err := PReq(&req).Decode(ctx.Reader); err != nil {
			return fmt.Errorf("%w: %T: %w", ErrMalformedPayload, req, err)
		}
	}
	if inv.fn == nil {
		respond(message.Unimplemented, nil, nil)
		return nil
	}
	inv.fn(ctx, req, func(code message.ResponseCode, resp Resp, extra codec.ExtraEncoder) {
		respond(code, PResp(&resp), extra)
	})
	return nil
}

type responseInvoker[Req, Resp any, PReq codec.Pointer[Req], PResp codec.Pointer[Resp]] struct {
	fn ResponseFunc[Resp]
}

func (inv *responseInvoker[Req, Resp, PReq, PResp]) InvokeResponse(ctx *ResponseContext, code message.ResponseCode, callback Callback) error {
	var (
		resp Resp
		err  error
	)
	if code.CarriesPayload() && len(ctx.Data) > 0 && ctx.Reader != nil {
		if derr := PResp(&resp).Decode(ctx.Reader); derr != nil {
			err = fmt.Errorf("%w: %T: %w", ErrMalformedPayload, resp, derr)
			code = message.InternalError
			resp = *new(Resp)
		}
	}
	if inv.fn != nil {
		inv.fn(ctx, code, resp)
	}
	if callback != nil {
		callback(ctx, code, resp)
	}
	return err
}

func (inv *responseInvoker[Req, Resp, PReq, PResp]) AcceptsRequest(req codec.Packed) bool {
	p, ok := req.(PReq)
	return ok && p != nil
}

// RegisterRequestHandler installs fn as the handler for requests tagged
// requestType, replacing any previous one.
func RegisterRequestHandler[Req, Resp any, PReq codec.Pointer[Req], PResp codec.Pointer[Resp]](
	h *Handler, requestType uint16, fn RequestFunc[Req, Resp]) {
	h.RegisterRequestInvoker(requestType, &requestInvoker[Req, Resp, PReq, PResp]{fn: fn})
}

// RegisterResponseHandler declares that requests tagged requestType are sent as
// *Req and answered with Resp. fn is optional.
func RegisterResponseHandler[Req, Resp any, PReq codec.Pointer[Req], PResp codec.Pointer[Resp]](
	h *Handler, requestType uint16, fn ResponseFunc[Resp]) {
	h.RegisterResponseInvoker(requestType, &responseInvoker[Req, Resp, PReq, PResp]{fn: fn})
}
