// Package relay is the broadcast side of sidechat. Every inbound message is
// re-sent to every other open connection, classified as received and stamped
// with the sender's connection id.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/websocket"

	"github.com/comigor/sidechat/internal/logger"
	"github.com/comigor/sidechat/internal/protocol"
)

const (
	DefaultWelcome = "Connected to chat server"
	invalidFrame   = "Invalid message format received. Please try again."
)

// Sender writes frames to one connection.
type Sender interface {
	Send(ev protocol.Event) error
}

// Responder answers inbound messages in place of the broadcast.
type Responder interface {
	// Respond handles one message from the connection with id from. It runs
	// on that connection's reader goroutine, so its messages are answered in
	// order.
	Respond(ctx context.Context, from string, out Sender, ev protocol.Event)
	// Forget drops any state kept for a connection that went away.
	Forget(id string)
}

// Options configures a Hub.
type Options struct {
	Welcome            string
	AnnounceDepartures bool
	Responder          Responder
	Logger             *slog.Logger
	NewID              func() string
	Now                func() time.Time
}

// Hub is the registry of open connections.
type Hub struct {
	opts Options

	mu    sync.Mutex
	peers map[string]*Peer
}

// NewHub returns an empty hub.
func NewHub(opts Options) *Hub {
	if opts.Welcome == "" {
		opts.Welcome = DefaultWelcome
	}
	if opts.Logger == nil {
		opts.Logger = logger.L
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Hub{
		opts:  opts,
		peers: make(map[string]*Peer),
	}
}

// Handler serves the websocket endpoint. Any origin is accepted and no
// subprotocol is negotiated.
func (h *Hub) Handler() http.Handler {
	return websocket.Server{
		Handshake: func(*websocket.Config, *http.Request) error { return nil },
		Handler:   h.serve,
	}
}

// Peers returns the ids of the registered connections, sorted.
func (h *Hub) Peers() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	ids := make([]string, 0, len(h.peers))
	for id := range h.peers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (h *Hub) serve(conn *websocket.Conn) {
	defer conn.Close()

	ctx, cancel := context.WithCancel(conn.Request().Context())
	defer cancel()

	peer := newPeer(h.opts.NewID(), conn)
	h.register(peer)
	defer h.deregister(peer)

	if err := peer.Send(protocol.System(h.opts.Welcome, h.opts.Now())); err != nil {
		h.opts.Logger.Warn("failed to send welcome", "client", peer.ID, "error", err)
		return
	}

	for {
		var frame []byte
		if err := websocket.Message.Receive(conn, &frame); err != nil {
			return
		}
		h.handleFrame(ctx, peer, frame)
	}
}

func (h *Hub) handleFrame(ctx context.Context, from *Peer, frame []byte) {
	var payload map[string]any
	err := json.Unmarshal(frame, &payload)
	if err == nil && payload == nil {
		err = errors.New("frame is not a JSON object")
	}
	if err != nil {
		h.opts.Logger.Warn("invalid JSON received", "client", from.ID, "error", err)
		if err := from.Send(protocol.System(invalidFrame, h.opts.Now())); err != nil {
			h.opts.Logger.Warn("failed to notify client", "client", from.ID, "error", err)
		}
		return
	}

	if h.opts.Responder != nil {
		var ev protocol.Event
		if err := json.Unmarshal(frame, &ev); err != nil {
			h.opts.Logger.Warn("unexpected message shape", "client", from.ID, "error", err)
			return
		}
		if ev.Kind != protocol.KindSent {
			h.opts.Logger.Debug("ignoring message", "client", from.ID, "kind", ev.Kind)
			return
		}
		h.opts.Logger.Debug("handling message", "client", from.ID, "kind", ev.Kind)
		h.opts.Responder.Respond(ctx, from.ID, from, ev)
		return
	}

	payload["kind"] = string(protocol.KindReceived)
	payload["senderId"] = from.ID
	out, err := json.Marshal(payload)
	if err != nil {
		h.opts.Logger.Error("failed to encode broadcast", "client", from.ID, "error", err)
		return
	}
	h.broadcast(from.ID, out)
}

// broadcast writes frame to every registered connection except skip.
func (h *Hub) broadcast(skip string, frame []byte) {
	for _, p := range h.others(skip) {
		if err := p.SendRaw(frame); err != nil {
			h.opts.Logger.Warn("failed to deliver message", "client", p.ID, "error", err)
		}
	}
}

func (h *Hub) others(skip string) []*Peer {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*Peer, 0, len(h.peers))
	for id, p := range h.peers {
		if id != skip {
			out = append(out, p)
		}
	}
	return out
}

func (h *Hub) register(p *Peer) {
	h.mu.Lock()
	h.peers[p.ID] = p
	n := len(h.peers)
	h.mu.Unlock()
	h.opts.Logger.Info("client connected", "client", p.ID, "clients", n)
}

func (h *Hub) deregister(p *Peer) {
	h.mu.Lock()
	delete(h.peers, p.ID)
	n := len(h.peers)
	h.mu.Unlock()
	p.markClosed()
	h.opts.Logger.Info("client disconnected", "client", p.ID, "clients", n)

	if h.opts.Responder != nil {
		h.opts.Responder.Forget(p.ID)
	}
	if h.opts.AnnounceDepartures {
		notice, err := protocol.Encode(protocol.System(fmt.Sprintf("Client %s has disconnected", p.ID), h.opts.Now()))
		if err != nil {
			return
		}
		h.broadcast(p.ID, notice)
	}
}
