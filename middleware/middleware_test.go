package middleware

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/insthync/reqres/codec"
	"github.com/insthync/reqres/engine"
	"github.com/insthync/reqres/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

// replies records responder calls the way a transport would see them once.
type replies struct {
	mu    sync.Mutex
	codes []message.ResponseCode
	got   chan struct{}
}

func newReplies() *replies {
	return &replies{got: make(chan struct{}, 8)}
}

func (r *replies) respond(code message.ResponseCode, _ codec.Packed, _ codec.ExtraEncoder) {
	r.mu.Lock()
	r.codes = append(r.codes, code)
	r.mu.Unlock()
	r.got <- struct{}{}
}

func (r *replies) list() []message.ResponseCode {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]message.ResponseCode(nil), r.codes...)
}

func (r *replies) wait(t *testing.T) {
	t.Helper()
	select {
	case <-r.got:
	case <-time.After(2 * time.Second):
		t.Fatal("no reply")
	}
}

func okHandler(_ *engine.RequestContext, respond engine.Responder) error {
	respond(message.Success, nil, nil)
	return nil
}

func slowHandler(_ *engine.RequestContext, respond engine.Responder) error {
	go func() {
		time.Sleep(200 * time.Millisecond)
		respond(message.Success, nil, nil)
	}()
	return nil
}

func newCtx() *engine.RequestContext {
	return &engine.RequestContext{Type: 1, RequestID: 5, Sender: 3, AsAuthority: true}
}

func TestLogging(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	r := newReplies()

	require.NoError(t, Logging(zap.New(core))(okHandler)(newCtx(), r.respond))
	assert.Equal(t, []message.ResponseCode{message.Success}, r.list())

	entries := logs.FilterMessage("request handled").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "Success", entries[0].ContextMap()["code"])
}

func TestLoggingHandlerError(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	failing := func(*engine.RequestContext, engine.Responder) error { return errors.New("boom") }

	require.Error(t, Logging(zap.New(core))(failing)(newCtx(), newReplies().respond))
	assert.Equal(t, 1, logs.FilterMessage("request failed").Len())
}

func TestRecover(t *testing.T) {
	panicking := func(*engine.RequestContext, engine.Responder) error { panic("bad state") }

	err := Recover(zaptest.NewLogger(t))(panicking)(newCtx(), newReplies().respond)
	require.ErrorIs(t, err, ErrPanic)
	assert.ErrorContains(t, err, "bad state")
}

func TestTimeoutPass(t *testing.T) {
	r := newReplies()
	require.NoError(t, Timeout(500*time.Millisecond)(okHandler)(newCtx(), r.respond))
	time.Sleep(600 * time.Millisecond)
	assert.Equal(t, []message.ResponseCode{message.Success}, r.list())
}

func TestTimeoutExceeded(t *testing.T) {
	r := newReplies()
	require.NoError(t, Timeout(50*time.Millisecond)(slowHandler)(newCtx(), r.respond))

	r.wait(t)
	assert.Equal(t, []message.ResponseCode{message.Timeout}, r.list())
	// The late reply still reaches the engine's responder, which drops it.
	r.wait(t)
	assert.Equal(t, []message.ResponseCode{message.Timeout, message.Success}, r.list())
}

func TestRateLimit(t *testing.T) {
	// 1 token per second with a burst of 2: the third request is rejected.
	handler := RateLimit(1, 2)(okHandler)
	r := newReplies()
	for range 3 {
		require.NoError(t, handler(newCtx(), r.respond))
	}
	assert.Equal(t, []message.ResponseCode{message.Success, message.Success, message.RateLimited}, r.list())
}

func TestRateLimitPerSender(t *testing.T) {
	handler := RateLimitPerSender(1, 1)(okHandler)
	r := newReplies()

	first, second := newCtx(), newCtx()
	second.Sender = 4
	require.NoError(t, handler(first, r.respond))
	require.NoError(t, handler(first, r.respond))
	require.NoError(t, handler(second, r.respond))
	assert.Equal(t, []message.ResponseCode{message.Success, message.RateLimited, message.Success}, r.list())
}

func TestChainOrder(t *testing.T) {
	var order []string
	mark := func(name string) engine.Middleware {
		return func(next engine.RequestHandlerFunc) engine.RequestHandlerFunc {
			return func(ctx *engine.RequestContext, respond engine.Responder) error {
				order = append(order, name)
				return next(ctx, respond)
			}
		}
	}

	handler := Chain(mark("outer"), mark("inner"), Timeout(time.Second))(okHandler)
	require.NoError(t, handler(newCtx(), newReplies().respond))
	assert.Equal(t, []string{"outer", "inner"}, order)
}
