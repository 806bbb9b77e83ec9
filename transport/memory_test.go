package transport

import (
	"sync"
	"testing"
	"time"

	"github.com/insthync/reqres/message"
	"github.com/stretchr/testify/require"
)

type delivery struct {
	sender      message.PeerID
	msg         message.Message
	asAuthority bool
}

// recorder is an Inbound that keeps every frame it receives.
type recorder struct {
	mu   sync.Mutex
	got  []delivery
	seen chan struct{}
}

func newRecorder() *recorder {
	return &recorder{seen: make(chan struct{}, 16)}
}

func (r *recorder) HandleRequest(sender message.PeerID, req *message.Request, asAuthority bool) {
	r.add(delivery{sender: sender, msg: req, asAuthority: asAuthority})
}

func (r *recorder) HandleResponse(sender message.PeerID, resp *message.Response, asAuthority bool) {
	r.add(delivery{sender: sender, msg: resp, asAuthority: asAuthority})
}

func (r *recorder) add(d delivery) {
	r.mu.Lock()
	r.got = append(r.got, d)
	r.mu.Unlock()
	r.seen <- struct{}{}
}

func (r *recorder) deliveries() []delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]delivery(nil), r.got...)
}

func TestNetworkRouting(t *testing.T) {
	n := NewNetwork()
	authority := n.Authority()
	peer := n.Join()
	authorityIn, peerIn := newRecorder(), newRecorder()
	authority.Subscribe(authorityIn)
	peer.Subscribe(peerIn)

	req := &message.Request{Type: 1, ID: 1}
	require.NoError(t, peer.SendToAuthority(req))
	resp := &message.Response{ID: 9}
	require.NoError(t, authority.SendToPeer(peer.ID(), resp))
	n.Wait()

	require.Equal(t, []delivery{{sender: peer.ID(), msg: req, asAuthority: true}}, authorityIn.deliveries())
	require.Equal(t, []delivery{{sender: message.AuthorityID, msg: resp, asAuthority: false}}, peerIn.deliveries())
}

func TestNetworkPeerIDsAreDistinct(t *testing.T) {
	n := NewNetwork()
	a, b := n.Join(), n.Join()
	require.NotEqual(t, a.ID(), b.ID())
	require.False(t, a.ID().IsAuthority())
	require.True(t, n.Authority().ID().IsAuthority())
}

func TestNetworkErrors(t *testing.T) {
	n := NewNetwork()
	peer := n.Join()

	require.ErrorIs(t, peer.SendToAuthority(&message.Request{}), ErrNoAuthority)
	require.ErrorIs(t, peer.SendToPeer(5, &message.Request{}), ErrNotAuthority)
	require.ErrorIs(t, n.Authority().SendToPeer(99, &message.Request{}), ErrUnknownPeer)

	n.Leave(peer)
	require.ErrorIs(t, n.Authority().SendToPeer(peer.ID(), &message.Response{}), ErrUnknownPeer)
	require.ErrorIs(t, peer.SendToAuthority(&message.Request{}), ErrClosed)
}

func TestNetworkDropAndDuplicate(t *testing.T) {
	n := NewNetwork(
		WithDuplicates(),
		WithLatency(time.Millisecond),
		WithDropFunc(func(m message.Message) bool {
			_, isResponse := m.(*message.Response)
			return isResponse
		}),
	)
	authorityIn := newRecorder()
	n.Authority().Subscribe(authorityIn)
	peer := n.Join()

	require.NoError(t, peer.SendToAuthority(&message.Request{ID: 1}))
	require.NoError(t, peer.SendToAuthority(&message.Response{ID: 2}))
	n.Wait()

	got := authorityIn.deliveries()
	require.Len(t, got, 2)
	for _, d := range got {
		require.IsType(t, &message.Request{}, d.msg)
	}
}

func TestHostIsAuthorityAndPeer(t *testing.T) {
	n := NewNetwork()
	host := n.Host()
	in := newRecorder()
	host.Subscribe(in)

	require.False(t, host.ID().IsAuthority())
	require.NoError(t, host.SendToAuthority(&message.Request{ID: 1}))
	require.NoError(t, host.SendToPeer(host.ID(), &message.Response{ID: 1}))
	n.Wait()

	got := in.deliveries()
	require.Len(t, got, 2)
	require.ElementsMatch(t, []bool{true, false}, []bool{got[0].asAuthority, got[1].asAuthority})
}
