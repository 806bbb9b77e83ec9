package main

import (
	"os"
	"time"

	"github.com/insthync/reqres/engine"
	"github.com/insthync/reqres/manager"
	"github.com/insthync/reqres/message"
	"github.com/loopholelabs/polyglot/v2"
)

// Request tags understood by reqresd.
const (
	TagEcho   uint16 = 1 // Peer → authority
	TagStatus uint16 = 2 // Authority → peer
)

type EchoRequest struct {
	Text string
}

func (r *EchoRequest) Encode(e *polyglot.BufferEncoder) { e.String(r.Text) }

func (r *EchoRequest) Decode(d *polyglot.BufferDecoder) (err error) {
	r.Text, err = d.String()
	return err
}

type EchoResponse struct {
	Text       string
	ReceivedAt int64 // Unix nanoseconds on the authority
}

func (r *EchoResponse) Encode(e *polyglot.BufferEncoder) {
	e.String(r.Text).Uint64(uint64(r.ReceivedAt))
}

func (r *EchoResponse) Decode(d *polyglot.BufferDecoder) (err error) {
	if r.Text, err = d.String(); err != nil {
		return err
	}
	at, err := d.Uint64()
	r.ReceivedAt = int64(at)
	return err
}

type StatusResponse struct {
	Host    string
	Pending uint32
}

func (r *StatusResponse) Encode(e *polyglot.BufferEncoder) {
	e.String(r.Host).Uint32(r.Pending)
}

func (r *StatusResponse) Decode(d *polyglot.BufferDecoder) (err error) {
	if r.Host, err = d.String(); err != nil {
		return err
	}
	r.Pending, err = d.Uint32()
	return err
}

func handleEcho(_ *engine.RequestContext, req EchoRequest, reply engine.Reply[EchoResponse]) {
	reply(message.Success, EchoResponse{Text: req.Text, ReceivedAt: time.Now().UnixNano()}, nil)
}

func handleStatus(ctx *engine.RequestContext, _ message.Empty, reply engine.Reply[StatusResponse]) {
	host, _ := os.Hostname()
	reply(message.Success, StatusResponse{Host: host, Pending: uint32(ctx.Handler.Pending())}, nil)
}

// registerAPI installs every call pair on m. Both roles register the same
// pairs so either binary can talk to the other.
func registerAPI(m *manager.Manager) {
	manager.RegisterRequestToAuthority[EchoRequest, EchoResponse](m, TagEcho, handleEcho, nil)
	manager.RegisterRequestToPeer[message.Empty, StatusResponse](m, TagStatus, handleStatus, nil)
}
