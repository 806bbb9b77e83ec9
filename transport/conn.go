// Package transport carries request and response frames between processes.
//
// Conn is the framed TCP connection both the server (authority) and the client
// (peer) build on: one goroutine reads frames in order, any number of goroutines
// write through a single lock, and a heartbeat keeps idle links alive.
//
//	goroutine-1 ──Write(request)──┐
//	goroutine-2 ──Write(response)─┼──→ single TCP conn ──→ remote
//	heartbeat   ──Write(ping)─────┘
//
//	Serve: ←── frame → decode → go inbound.HandleRequest / HandleResponse
//
// Network is an in-process transport with the same delivery semantics, used by
// tests and by applications that embed both roles in one binary.
package transport

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/insthync/reqres/codec"
	"github.com/insthync/reqres/manager"
	"github.com/insthync/reqres/message"
	"github.com/insthync/reqres/protocol"
)

var ErrClosed = errors.New("transport: connection closed")

// Conn is a framed connection shared by one reader and many writers.
type Conn struct {
	conn      net.Conn
	codec     codec.Codec
	sending   sync.Mutex // Serializes whole frames; interleaved writes corrupt the stream
	closeOnce sync.Once
	done      chan struct{}
}

func NewConn(conn net.Conn, codecType codec.CodecType) *Conn {
	return &Conn{
		conn:  conn,
		codec: codec.GetCodec(codecType),
		done:  make(chan struct{}),
	}
}

// Write encodes v with the connection's codec and sends it as one frame.
// v may be nil for frames without a body.
func (c *Conn) Write(msgType protocol.MsgType, v any) error {
	var body []byte
	if v != nil {
		var err error
		if body, err = c.codec.Encode(v); err != nil {
			return fmt.Errorf("encode %s: %w", msgType, err)
		}
	}
	header := protocol.Header{
		CodecType: byte(c.codec.Type()),
		MsgType:   msgType,
		BodyLen:   uint32(len(body)),
	}

	c.sending.Lock()
	defer c.sending.Unlock()
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	return protocol.Encode(c.conn, &header, body)
}

// Send writes a request or response frame.
func (c *Conn) Send(msg message.Message) error {
	switch msg.(type) {
	case *message.Request:
		return c.Write(protocol.MsgTypeRequest, msg)
	case *message.Response:
		return c.Write(protocol.MsgTypeResponse, msg)
	default:
		return fmt.Errorf("transport: unsupported message %T", msg)
	}
}

// Read returns the next frame. Only one goroutine may read at a time.
func (c *Conn) Read() (*protocol.Header, []byte, error) {
	return protocol.Decode(c.conn)
}

// ReadExpect reads one frame of the given type within timeout and decodes it
// into v. It is used for the handshake, before Serve takes over the reads.
func (c *Conn) ReadExpect(msgType protocol.MsgType, v any, timeout time.Duration) error {
	if timeout > 0 {
		if err := c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return err
		}
		defer c.conn.SetReadDeadline(time.Time{})
	}
	header, body, err := c.Read()
	if err != nil {
		return err
	}
	if header.MsgType != msgType {
		return fmt.Errorf("transport: expected %s frame, got %s", msgType, header.MsgType)
	}
	return codec.GetCodec(codec.CodecType(header.CodecType)).Decode(body, v)
}

// Serve reads frames until the connection fails and hands request and response
// frames to in. Each frame is dispatched on its own goroutine so a slow handler
// never stalls the stream. sender and asAuthority describe the remote side as
// seen by this process.
func (c *Conn) Serve(in manager.Inbound, sender message.PeerID, asAuthority bool) error {
	for {
		header, body, err := c.Read()
		if err != nil {
			return err
		}
		cdc := codec.GetCodec(codec.CodecType(header.CodecType))

		switch header.MsgType {
		case protocol.MsgTypeHeartbeat:
			continue
		case protocol.MsgTypeRequest:
			req := &message.Request{}
			if err := cdc.Decode(body, req); err != nil {
				return fmt.Errorf("decode request frame: %w", err)
			}
			go in.HandleRequest(sender, req, asAuthority)
		case protocol.MsgTypeResponse:
			resp := &message.Response{}
			if err := cdc.Decode(body, resp); err != nil {
				return fmt.Errorf("decode response frame: %w", err)
			}
			go in.HandleResponse(sender, resp, asAuthority)
		default:
			return fmt.Errorf("transport: unexpected %s frame", header.MsgType)
		}
	}
}

// HeartbeatLoop sends empty heartbeat frames every interval until the
// connection closes or a write fails.
func (c *Conn) HeartbeatLoop(interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.Write(protocol.MsgTypeHeartbeat, nil); err != nil {
				return
			}
		}
	}
}

func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Done is closed once Close has been called.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}
