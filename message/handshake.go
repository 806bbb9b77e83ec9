package message

import (
	"fmt"

	"github.com/loopholelabs/polyglot/v2"
)

// Hello is the first frame a peer sends on a fresh connection.
type Hello struct {
	Version string `json:"version"` // Semantic version of the peer's protocol implementation
}

func (h *Hello) Encode(e *polyglot.BufferEncoder) {
	e.String(h.Version)
}

func (h *Hello) Decode(d *polyglot.BufferDecoder) error {
	var err error
	if h.Version, err = d.String(); err != nil {
		return fmt.Errorf("hello version: %w", err)
	}
	return nil
}

// Welcome is the authority's answer to Hello. It carries the identity the
// authority will use for the peer from now on.
type Welcome struct {
	PeerID PeerID `json:"peer_id"`
}

func (w *Welcome) Encode(e *polyglot.BufferEncoder) {
	e.Uint64(uint64(w.PeerID))
}

func (w *Welcome) Decode(d *polyglot.BufferDecoder) error {
	id, err := d.Uint64()
	if err != nil {
		return fmt.Errorf("welcome peer id: %w", err)
	}
	w.PeerID = PeerID(id)
	return nil
}
