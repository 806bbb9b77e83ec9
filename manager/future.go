package manager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/insthync/reqres/codec"
	"github.com/insthync/reqres/engine"
	"github.com/insthync/reqres/message"
	"go.uber.org/zap"
)

// AsyncResponse is the outcome of an awaited request.
type AsyncResponse[Resp any] struct {
	Context  *engine.ResponseContext
	Code     message.ResponseCode
	Response Resp
}

// responseFuture is completed exactly once by the request's callback.
type responseFuture[Resp any] struct {
	ch   chan struct{}
	once sync.Once
	res  AsyncResponse[Resp]
	log  *zap.Logger
}

func newResponseFuture[Resp any](log *zap.Logger) *responseFuture[Resp] {
	return &responseFuture[Resp]{ch: make(chan struct{}), log: log}
}

func (f *responseFuture[Resp]) callback(ctx *engine.ResponseContext, code message.ResponseCode, resp any) {
	f.once.Do(func() {
		r, ok := resp.(Resp)
		if !ok && code.CarriesPayload() {
			// Resp does not match the type the call pair was registered with.
			f.log.Debug("awaited response has unexpected type",
				zap.Uint32("id", ctx.RequestID), zap.Stringer("code", code),
				zap.String("want", fmt.Sprintf("%T", r)), zap.String("got", fmt.Sprintf("%T", resp)))
		}
		f.res = AsyncResponse[Resp]{Context: ctx, Code: code, Response: r}
		close(f.ch)
	})
}

// wait blocks until the callback fired or ctx is done. The request's own
// timeout guarantees the former eventually happens.
func (f *responseFuture[Resp]) wait(ctx context.Context) (AsyncResponse[Resp], error) {
	select {
	case <-f.ch:
		return f.res, nil
	case <-ctx.Done():
		// Prefer a result that raced with cancellation.
		select {
		case <-f.ch:
			return f.res, nil
		default:
		}
		return AsyncResponse[Resp]{}, ctx.Err()
	}
}

// AuthoritySendRequestAsync sends a request to peer and blocks until its
// outcome is known. Failures are reported through Code; the error is only
// non-nil when ctx ends the wait first.
func AuthoritySendRequestAsync[Resp any](
	ctx context.Context,
	m *Manager,
	peer message.PeerID,
	requestType uint16,
	request codec.Packed,
	extra codec.ExtraEncoder,
	timeout time.Duration,
) (AsyncResponse[Resp], error) {
	f := newResponseFuture[Resp](m.log)
	if err := m.AuthoritySendRequest(peer, requestType, request, extra, f.callback, timeout); err != nil {
		m.log.Debug("awaited request failed to send", zap.Error(err))
	}
	return f.wait(ctx)
}

// PeerSendRequestAsync sends a request to the authority and blocks until its
// outcome is known.
func PeerSendRequestAsync[Resp any](
	ctx context.Context,
	m *Manager,
	requestType uint16,
	request codec.Packed,
	extra codec.ExtraEncoder,
	timeout time.Duration,
) (AsyncResponse[Resp], error) {
	f := newResponseFuture[Resp](m.log)
	if err := m.PeerSendRequest(requestType, request, extra, f.callback, timeout); err != nil {
		m.log.Debug("awaited request failed to send", zap.Error(err))
	}
	return f.wait(ctx)
}
