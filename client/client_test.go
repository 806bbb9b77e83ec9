package client

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/insthync/reqres/codec"
	"github.com/insthync/reqres/engine"
	"github.com/insthync/reqres/manager"
	"github.com/insthync/reqres/message"
	"github.com/insthync/reqres/registry"
	"github.com/insthync/reqres/server"
	"github.com/loopholelabs/polyglot/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const (
	tagUpper uint16 = 1
	tagWho   uint16 = 2
)

type text struct {
	Value string
}

func (t *text) Encode(e *polyglot.BufferEncoder) { e.String(t.Value) }

func (t *text) Decode(d *polyglot.BufferDecoder) (err error) {
	t.Value, err = d.String()
	return err
}

func register(m *manager.Manager) {
	manager.RegisterRequestToAuthority[text, text](m, tagUpper,
		func(_ *engine.RequestContext, req text, reply engine.Reply[text]) {
			reply(message.Success, text{Value: strings.ToUpper(req.Value)}, nil)
		}, nil)
	manager.RegisterRequestToPeer[message.Empty, text](m, tagWho,
		func(ctx *engine.RequestContext, _ message.Empty, reply engine.Reply[text]) {
			reply(message.Success, text{Value: "peer"}, nil)
		}, nil)
}

type cluster struct {
	reg       *registry.Static
	server    *server.Server
	authority *manager.Manager
}

func startCluster(t *testing.T, codecType codec.CodecType) *cluster {
	t.Helper()
	log := zaptest.NewLogger(t)
	reg := registry.NewStatic("default")

	srv, err := server.New("^1.0.0",
		server.WithLogger(log),
		server.WithCodec(codecType),
		server.WithRegistry(reg, "default", "", 10, 1))
	require.NoError(t, err)
	authority := manager.New(srv, manager.WithLogger(log))
	register(authority)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	served := make(chan error, 1)
	go func() { served <- srv.Serve(l) }()
	require.Eventually(t, func() bool {
		instances, _ := reg.Discover(context.Background(), "default")
		return len(instances) == 1
	}, time.Second, 5*time.Millisecond)

	t.Cleanup(func() {
		require.NoError(t, srv.Shutdown(time.Second))
		require.NoError(t, <-served)
	})
	return &cluster{reg: reg, server: srv, authority: authority}
}

func connectPeer(t *testing.T, c *cluster, opts ...Option) (*Client, *manager.Manager) {
	t.Helper()
	cl := New(c.reg, nil, append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)...)
	peer := manager.New(cl, manager.WithTimeouts(0, 2*time.Second))
	register(peer)
	require.NoError(t, cl.Connect(context.Background(), "default"))
	done := cl.Done()
	t.Cleanup(func() {
		cl.Close()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
		}
	})
	return cl, peer
}

func TestRoundTripBothDirections(t *testing.T) {
	for _, ct := range []codec.CodecType{codec.CodecTypeBinary, codec.CodecTypeJSON} {
		t.Run(ct.String(), func(t *testing.T) {
			c := startCluster(t, ct)
			cl, peer := connectPeer(t, c, WithCodec(ct))
			ctx := context.Background()

			res, err := manager.PeerSendRequestAsync[text](ctx, peer, tagUpper, &text{Value: "hello"}, nil, 0)
			require.NoError(t, err)
			require.Equal(t, message.Success, res.Code)
			assert.Equal(t, "HELLO", res.Response.Value)
			assert.True(t, res.Context.Sender.IsAuthority())

			require.Eventually(t, func() bool { return len(c.server.Peers()) == 1 }, time.Second, 5*time.Millisecond)
			res, err = manager.AuthoritySendRequestAsync[text](ctx, c.authority, cl.ID(), tagWho, &message.Empty{}, nil, time.Second)
			require.NoError(t, err)
			require.Equal(t, message.Success, res.Code)
			assert.Equal(t, "peer", res.Response.Value)
			assert.Equal(t, cl.ID(), res.Context.Sender)
		})
	}
}

func TestDisconnectedPeerIsUnreachable(t *testing.T) {
	c := startCluster(t, codec.CodecTypeBinary)
	cl, _ := connectPeer(t, c)
	id := cl.ID()
	require.NoError(t, cl.Close())
	require.Eventually(t, func() bool { return len(c.server.Peers()) == 0 }, time.Second, 5*time.Millisecond)

	res, err := manager.AuthoritySendRequestAsync[text](context.Background(), c.authority, id, tagWho, &message.Empty{}, nil, time.Second)
	require.NoError(t, err)
	assert.Equal(t, message.Unreachable, res.Code)
}

func TestConnectErrors(t *testing.T) {
	cl := New(registry.NewStatic("default"), nil)
	assert.ErrorIs(t, cl.Dial(context.Background(), "127.0.0.1:1"), ErrNotSubscribed)

	manager.New(cl)
	assert.ErrorIs(t, cl.Connect(context.Background(), "default"), registry.ErrNoInstances)
	assert.ErrorIs(t, cl.SendToAuthority(&message.Request{}), ErrNotConnected)
	assert.ErrorIs(t, cl.SendToPeer(1, &message.Request{}), ErrPeerOnly)
}

func TestVersionRejected(t *testing.T) {
	c := startCluster(t, codec.CodecTypeBinary)
	cl := New(c.reg, nil, WithVersion("2.0.0"), WithHandshakeTimeout(time.Second))
	manager.New(cl)
	assert.Error(t, cl.Connect(context.Background(), "default"))
	assert.Zero(t, cl.ID())
}

func TestDoneClosesWhenServerStops(t *testing.T) {
	c := startCluster(t, codec.CodecTypeBinary)
	cl, _ := connectPeer(t, c)
	done := cl.Done()
	require.NotNil(t, done)

	require.NoError(t, c.server.Shutdown(time.Second))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("client did not notice the shutdown")
	}
	assert.ErrorIs(t, cl.SendToAuthority(&message.Request{}), ErrNotConnected)
}

func TestDisconnectsWhenAuthorityLeavesRealm(t *testing.T) {
	c := startCluster(t, codec.CodecTypeBinary)
	cl, _ := connectPeer(t, c)
	done := cl.Done()
	require.Eventually(t, func() bool { return len(c.server.Peers()) == 1 }, time.Second, 5*time.Millisecond)

	ctx := context.Background()
	other := registry.Instance{Addr: "127.0.0.1:1", Weight: 1}
	require.NoError(t, c.reg.Register(ctx, "default", other, 10))
	select {
	case <-done:
		t.Fatal("disconnected while the authority is still advertised")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, c.reg.Deregister(ctx, "default", c.server.Addr().String()))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("client kept the connection to a deregistered authority")
	}
	assert.ErrorIs(t, cl.SendToAuthority(&message.Request{}), ErrNotConnected)
	require.Eventually(t, func() bool { return len(c.server.Peers()) == 0 }, time.Second, 5*time.Millisecond)
}
