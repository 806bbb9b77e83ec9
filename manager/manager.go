// Package manager is the role router in front of two correlation engines.
//
// One process may act as the authority and as a peer at the same time, issuing
// requests in both directions with independent ID spaces:
//
//	transport ──HandleRequest/HandleResponse(asAuthority=true)──→ authority engine
//	          ──HandleRequest/HandleResponse(asAuthority=false)─→ peer engine
package manager

import (
	"time"

	"github.com/insthync/reqres/codec"
	"github.com/insthync/reqres/engine"
	"github.com/insthync/reqres/message"
	"go.uber.org/zap"
)

// DefaultTimeout applies when neither the caller nor the options choose one.
const DefaultTimeout = 30 * time.Second

// Inbound receives frames from a transport. asAuthority tells which role of
// this process the frame was addressed to.
type Inbound interface {
	HandleRequest(sender message.PeerID, req *message.Request, asAuthority bool)
	HandleResponse(sender message.PeerID, resp *message.Response, asAuthority bool)
}

// Transport is everything the manager needs from the message layer.
type Transport interface {
	engine.Sender
	Subscribe(in Inbound)
}

type Manager struct {
	transport        Transport
	authority        *engine.Handler
	peer             *engine.Handler
	authorityTimeout time.Duration
	peerTimeout      time.Duration
	log              *zap.Logger
}

type Option func(*Manager)

func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// WithTimeouts sets the default request timeouts of each role. Non-positive
// values keep DefaultTimeout.
func WithTimeouts(authority, peer time.Duration) Option {
	return func(m *Manager) {
		if authority > 0 {
			m.authorityTimeout = authority
		}
		if peer > 0 {
			m.peerTimeout = peer
		}
	}
}

// New builds both engines on top of t and subscribes to its inbound frames.
func New(t Transport, opts ...Option) *Manager {
	m := &Manager{
		transport:        t,
		authorityTimeout: DefaultTimeout,
		peerTimeout:      DefaultTimeout,
		log:              zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.authority = engine.NewHandler(t, engine.WithName("authority"), engine.WithLogger(m.log))
	m.peer = engine.NewHandler(t, engine.WithName("peer"), engine.WithLogger(m.log))
	t.Subscribe(m)
	return m
}

// Authority returns the engine used while acting as the authority.
func (m *Manager) Authority() *engine.Handler { return m.authority }

// Peer returns the engine used while acting as a peer.
func (m *Manager) Peer() *engine.Handler { return m.peer }

func (m *Manager) handler(asAuthority bool) *engine.Handler {
	if asAuthority {
		return m.authority
	}
	return m.peer
}

func (m *Manager) HandleRequest(sender message.PeerID, req *message.Request, asAuthority bool) {
	if err := m.handler(asAuthority).ReceiveRequest(asAuthority, sender, req); err != nil {
		m.log.Error("request handling failed", zap.Bool("as_authority", asAuthority), zap.Error(err))
	}
}

func (m *Manager) HandleResponse(sender message.PeerID, resp *message.Response, asAuthority bool) {
	if err := m.handler(asAuthority).ReceiveResponse(sender, resp); err != nil {
		m.log.Error("response handling failed", zap.Bool("as_authority", asAuthority), zap.Error(err))
	}
}

// Use installs request middleware on both engines.
func (m *Manager) Use(mws ...engine.Middleware) {
	m.authority.Use(mws...)
	m.peer.Use(mws...)
}

// AuthoritySendRequest sends a request from the authority to peer. A
// non-positive timeout uses the authority default.
func (m *Manager) AuthoritySendRequest(
	peer message.PeerID,
	requestType uint16,
	request codec.Packed,
	extra codec.ExtraEncoder,
	callback engine.Callback,
	timeout time.Duration,
) error {
	if timeout <= 0 {
		timeout = m.authorityTimeout
	}
	return m.authority.CreateAndSendRequest(peer, requestType, request, extra, callback, timeout)
}

// PeerSendRequest sends a request from this peer to the authority. A
// non-positive timeout uses the peer default.
func (m *Manager) PeerSendRequest(
	requestType uint16,
	request codec.Packed,
	extra codec.ExtraEncoder,
	callback engine.Callback,
	timeout time.Duration,
) error {
	if timeout <= 0 {
		timeout = m.peerTimeout
	}
	return m.peer.CreateAndSendRequest(message.AuthorityID, requestType, request, extra, callback, timeout)
}

// RegisterRequestToAuthority declares a call pair that peers send to the
// authority: the authority engine runs handler, the peer engine decodes the
// answers and runs the optional response handler.
func RegisterRequestToAuthority[Req, Resp any, PReq codec.Pointer[Req], PResp codec.Pointer[Resp]](
	m *Manager, requestType uint16, handler engine.RequestFunc[Req, Resp], response engine.ResponseFunc[Resp]) {
	engine.RegisterRequestHandler[Req, Resp, PReq, PResp](m.authority, requestType, handler)
	engine.RegisterResponseHandler[Req, Resp, PReq, PResp](m.peer, requestType, response)
}

func (m *Manager) UnregisterRequestToAuthority(requestType uint16) {
	m.authority.UnregisterRequestHandler(requestType)
	m.peer.UnregisterResponseHandler(requestType)
}

// RegisterRequestToPeer declares a call pair that the authority sends to peers.
func RegisterRequestToPeer[Req, Resp any, PReq codec.Pointer[Req], PResp codec.Pointer[Resp]](
	m *Manager, requestType uint16, handler engine.RequestFunc[Req, Resp], response engine.ResponseFunc[Resp]) {
	engine.RegisterRequestHandler[Req, Resp, PReq, PResp](m.peer, requestType, handler)
	engine.RegisterResponseHandler[Req, Resp, PReq, PResp](m.authority, requestType, response)
}

func (m *Manager) UnregisterRequestToPeer(requestType uint16) {
	m.peer.UnregisterRequestHandler(requestType)
	m.authority.UnregisterResponseHandler(requestType)
}
