// Package client is the peer side of the TCP transport.
//
// Connect discovers the authorities of a realm, lets the balancer pick one,
// dials it and performs the Hello/Welcome handshake. After that the client
// carries frames between the authority and the peer role of a manager.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"slices"
	"sync"
	"time"

	"github.com/insthync/reqres/codec"
	"github.com/insthync/reqres/loadbalance"
	"github.com/insthync/reqres/manager"
	"github.com/insthync/reqres/message"
	"github.com/insthync/reqres/protocol"
	"github.com/insthync/reqres/registry"
	"github.com/insthync/reqres/transport"
	"github.com/rs/xid"
	"go.uber.org/zap"
)

var (
	ErrNotConnected   = errors.New("client: not connected")
	ErrPeerOnly       = errors.New("client: a peer can only address the authority")
	ErrNotSubscribed  = errors.New("client: no inbound handler subscribed")
	ErrAlreadyRunning = errors.New("client: already connected")
)

const (
	DefaultVersion          = "1.0.0"
	DefaultHeartbeat        = 30 * time.Second
	DefaultHandshakeTimeout = 5 * time.Second
)

type Client struct {
	registry         registry.Registry
	balancer         loadbalance.Balancer
	codecType        codec.CodecType
	version          string
	key              string // Balancer key; stable per client
	heartbeat        time.Duration
	handshakeTimeout time.Duration
	log              *zap.Logger

	mu   sync.RWMutex
	in   manager.Inbound
	conn *transport.Conn
	id   message.PeerID
	done chan struct{}
}

type Option func(*Client)

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

func WithCodec(t codec.CodecType) Option {
	return func(c *Client) { c.codecType = t }
}

// WithVersion sets the protocol version announced in Hello.
func WithVersion(v string) Option {
	return func(c *Client) { c.version = v }
}

// WithKey sets the key key-aware balancers use to place this client.
func WithKey(key string) Option {
	return func(c *Client) { c.key = key }
}

func WithHeartbeat(d time.Duration) Option {
	return func(c *Client) { c.heartbeat = d }
}

func WithHandshakeTimeout(d time.Duration) Option {
	return func(c *Client) { c.handshakeTimeout = d }
}

// New creates a client. reg and bal are only needed for Connect; Dial works
// without them.
func New(reg registry.Registry, bal loadbalance.Balancer, opts ...Option) *Client {
	c := &Client{
		registry:         reg,
		balancer:         bal,
		codecType:        codec.CodecTypeBinary,
		version:          DefaultVersion,
		key:              xid.New().String(),
		heartbeat:        DefaultHeartbeat,
		handshakeTimeout: DefaultHandshakeTimeout,
		log:              zap.NewNop(),
	}
	if c.balancer == nil {
		c.balancer = &loadbalance.RoundRobinBalancer{}
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Subscribe(in manager.Inbound) {
	c.mu.Lock()
	c.in = in
	c.mu.Unlock()
}

// Connect picks an authority of realm and dials it. The connection is dropped
// if that authority later leaves the realm.
func (c *Client) Connect(ctx context.Context, realm string) error {
	if c.registry == nil {
		return fmt.Errorf("client: connect %s: no registry", realm)
	}
	instances, err := c.registry.Discover(ctx, realm)
	if err != nil {
		return err
	}
	if len(instances) == 0 {
		return fmt.Errorf("%w in realm %s", registry.ErrNoInstances, realm)
	}
	inst, err := c.balancer.Pick(c.key, instances)
	if err != nil {
		return err
	}
	c.log.Debug("authority picked", zap.String("addr", inst.Addr), zap.String("balancer", c.balancer.Name()))

	// Watching starts before the dial so a deregistration racing the handshake
	// is still seen.
	watchCtx, stopWatch := context.WithCancel(context.Background())
	updates := c.registry.Watch(watchCtx, realm)
	follow := func(log *zap.Logger, conn *transport.Conn) {
		followRealm(log, realm, inst.Addr, conn, updates)
	}
	if err := c.dial(ctx, inst.Addr, follow, stopWatch); err != nil {
		stopWatch()
		return err
	}
	return nil
}

// followRealm closes conn once addr is no longer advertised in realm, so the
// caller can Connect to a remaining authority. It returns when updates closes.
func followRealm(log *zap.Logger, realm, addr string, conn *transport.Conn, updates <-chan []registry.Instance) {
	for instances := range updates {
		if slices.ContainsFunc(instances, func(i registry.Instance) bool { return i.Addr == addr }) {
			continue
		}
		log.Info("authority left realm, disconnecting", zap.String("realm", realm))
		conn.Close()
		return
	}
}

// Dial connects to the authority at addr and completes the handshake.
func (c *Client) Dial(ctx context.Context, addr string) error {
	return c.dial(ctx, addr, nil, nil)
}

// dial runs follow, when set, alongside the connection. stopFollow must make
// follow return; both are done before Done closes.
func (c *Client) dial(ctx context.Context, addr string, follow func(*zap.Logger, *transport.Conn), stopFollow func()) error {
	c.mu.RLock()
	in, running := c.in, c.conn != nil
	c.mu.RUnlock()
	if in == nil {
		return ErrNotSubscribed
	}
	if running {
		return ErrAlreadyRunning
	}

	var d net.Dialer
	raw, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("client: dial %s: %w", addr, err)
	}
	conn := transport.NewConn(raw, c.codecType)

	if err := conn.Write(protocol.MsgTypeHello, &message.Hello{Version: c.version}); err != nil {
		conn.Close()
		return fmt.Errorf("client: hello: %w", err)
	}
	var welcome message.Welcome
	if err := conn.ReadExpect(protocol.MsgTypeWelcome, &welcome, c.handshakeTimeout); err != nil {
		conn.Close()
		return fmt.Errorf("client: handshake with %s: %w", addr, err)
	}

	done := make(chan struct{})
	c.mu.Lock()
	c.conn, c.id, c.done = conn, welcome.PeerID, done
	c.mu.Unlock()

	log := c.log.With(zap.String("addr", addr), zap.Stringer("peer", welcome.PeerID))
	log.Info("connected to authority")

	var following sync.WaitGroup
	if follow != nil {
		following.Add(1)
		go func() {
			defer following.Done()
			follow(log, conn)
		}()
	}

	go conn.HeartbeatLoop(c.heartbeat)
	go func() {
		defer close(done)
		err := conn.Serve(in, message.AuthorityID, false)
		conn.Close()
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()
		if stopFollow != nil {
			stopFollow()
		}
		following.Wait()
		log.Info("disconnected from authority", zap.Error(err))
	}()
	return nil
}

// ID returns the PeerID the authority assigned, or zero before the handshake.
func (c *Client) ID() message.PeerID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.id
}

// Done is closed when the current connection ends. It returns nil before the
// first successful Dial.
func (c *Client) Done() <-chan struct{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.done
}

func (c *Client) SendToAuthority(msg message.Message) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}
	return conn.Send(msg)
}

func (c *Client) SendToPeer(message.PeerID, message.Message) error {
	return ErrPeerOnly
}

// Close drops the connection to the authority.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

var _ manager.Transport = (*Client)(nil)
