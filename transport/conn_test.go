package transport

import (
	"net"
	"testing"
	"time"

	"github.com/insthync/reqres/codec"
	"github.com/insthync/reqres/message"
	"github.com/insthync/reqres/protocol"
	"github.com/stretchr/testify/require"
)

func newConnPair(t *testing.T, codecType codec.CodecType) (*Conn, *Conn) {
	t.Helper()
	a, b := net.Pipe()
	left, right := NewConn(a, codecType), NewConn(b, codecType)
	t.Cleanup(func() {
		left.Close()
		right.Close()
	})
	return left, right
}

func waitSeen(t *testing.T, r *recorder, n int) {
	t.Helper()
	for range n {
		select {
		case <-r.seen:
		case <-time.After(2 * time.Second):
			t.Fatal("frame not delivered")
		}
	}
}

func TestConnServeDispatchesFrames(t *testing.T) {
	for _, ct := range []codec.CodecType{codec.CodecTypeBinary, codec.CodecTypeJSON} {
		t.Run(ct.String(), func(t *testing.T) {
			left, right := newConnPair(t, ct)
			in := newRecorder()
			go right.Serve(in, 42, true)

			req := &message.Request{Type: 3, ID: 10, Data: []byte("ping")}
			resp := &message.Response{ID: 11, Code: message.Success, Data: []byte("pong")}
			require.NoError(t, left.Write(protocol.MsgTypeHeartbeat, nil))
			require.NoError(t, left.Send(req))
			require.NoError(t, left.Send(resp))
			waitSeen(t, in, 2)

			require.ElementsMatch(t, []delivery{
				{sender: 42, msg: req, asAuthority: true},
				{sender: 42, msg: resp, asAuthority: true},
			}, in.deliveries())
		})
	}
}

func TestConnHandshakeFrames(t *testing.T) {
	left, right := newConnPair(t, codec.CodecTypeBinary)

	go func() {
		_ = left.Write(protocol.MsgTypeHello, &message.Hello{Version: "1.2.0"})
	}()
	var hello message.Hello
	require.NoError(t, right.ReadExpect(protocol.MsgTypeHello, &hello, time.Second))
	require.Equal(t, "1.2.0", hello.Version)

	go func() {
		_ = right.Write(protocol.MsgTypeHello, &message.Hello{Version: "1.2.0"})
	}()
	var welcome message.Welcome
	require.ErrorContains(t, left.ReadExpect(protocol.MsgTypeWelcome, &welcome, time.Second), "expected welcome frame")
}

func TestConnSendRejectsHandshakeMessages(t *testing.T) {
	left, _ := newConnPair(t, codec.CodecTypeBinary)
	require.Error(t, left.Send(&message.Hello{}))
}

func TestConnWriteAfterClose(t *testing.T) {
	left, _ := newConnPair(t, codec.CodecTypeBinary)
	require.NoError(t, left.Close())
	require.NoError(t, left.Close())
	require.ErrorIs(t, left.Send(&message.Request{}), ErrClosed)

	select {
	case <-left.Done():
	default:
		t.Fatal("done not closed")
	}
}
