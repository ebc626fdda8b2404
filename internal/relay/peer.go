package relay

import (
	"errors"
	"sync"

	"golang.org/x/net/websocket"

	"github.com/comigor/sidechat/internal/protocol"
)

// ErrPeerClosed is returned when writing to a connection that went away.
var ErrPeerClosed = errors.New("relay: peer closed")

// Peer is one registered connection. Writes are serialized so frames from the
// broadcast and from a responder never interleave.
type Peer struct {
	ID string

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

func newPeer(id string, conn *websocket.Conn) *Peer {
	return &Peer{ID: id, conn: conn}
}

// Send writes ev as one frame.
func (p *Peer) Send(ev protocol.Event) error {
	frame, err := protocol.Encode(ev)
	if err != nil {
		return err
	}
	return p.SendRaw(frame)
}

// SendRaw writes an already encoded frame.
func (p *Peer) SendRaw(frame []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPeerClosed
	}
	if err := websocket.Message.Send(p.conn, string(frame)); err != nil {
		p.closed = true
		return err
	}
	return nil
}

func (p *Peer) markClosed() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}
