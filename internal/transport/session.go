// Package transport owns the single websocket connection between a chat
// client and the relay.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"golang.org/x/net/websocket"

	"github.com/comigor/sidechat/internal/logger"
	"github.com/comigor/sidechat/internal/protocol"
)

var (
	// ErrNotOpen is returned by Send and Close when there is no open connection.
	ErrNotOpen = errors.New("transport: connection is not open")
	// ErrAlreadyOpen is returned by Connect while a connection is open.
	ErrAlreadyOpen = errors.New("transport: connection already open")
)

// Signal is the kind of a Notification.
type Signal int

const (
	SignalOpened Signal = iota
	SignalClosed
	SignalErrored
	SignalFrame
	SignalMalformed
)

func (s Signal) String() string {
	switch s {
	case SignalOpened:
		return "opened"
	case SignalClosed:
		return "closed"
	case SignalErrored:
		return "errored"
	case SignalFrame:
		return "frame"
	case SignalMalformed:
		return "malformed"
	default:
		return fmt.Sprintf("signal(%d)", int(s))
	}
}

// Notification is a lifecycle signal or an inbound frame.
type Notification struct {
	Signal Signal
	Event  protocol.Event // SignalFrame
	Raw    []byte         // SignalMalformed
	Err    error          // SignalErrored, SignalMalformed
}

// Config names the relay endpoint.
type Config struct {
	URL    string
	Origin string
}

// Session is one client connection to the relay. Notifications are delivered
// on a single channel in socket order: Opened, then frames, then Closed
// (preceded by Errored when the socket failed).
type Session struct {
	cfg    Config
	log    *slog.Logger
	notify chan Notification

	mu      sync.Mutex
	conn    *websocket.Conn
	closing bool
}

// New returns a closed session for cfg.
func New(cfg Config) *Session {
	return &Session{
		cfg:    cfg,
		log:    logger.L,
		notify: make(chan Notification, 64),
	}
}

// Notifications returns the channel all signals and frames are delivered on.
func (s *Session) Notifications() <-chan Notification {
	return s.notify
}

// Open reports whether a connection is currently open.
func (s *Session) Open() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// Connect dials the relay. On success SignalOpened is the first notification
// for the new connection.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil {
		return ErrAlreadyOpen
	}

	wsCfg, err := websocket.NewConfig(s.cfg.URL, s.cfg.Origin)
	if err != nil {
		return fmt.Errorf("transport: config: %w", err)
	}
	conn, err := wsCfg.DialContext(ctx)
	if err != nil {
		return fmt.Errorf("transport: dial %s: %w", s.cfg.URL, err)
	}

	s.conn = conn
	s.closing = false
	s.log.Info("connected to relay", "url", s.cfg.URL)

	go s.read(conn)
	return nil
}

// Send writes ev as one frame.
func (s *Session) Send(ev protocol.Event) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		return ErrNotOpen
	}
	frame, err := protocol.Encode(ev)
	if err != nil {
		return err
	}
	return websocket.Message.Send(conn, string(frame))
}

// Close closes the connection. SignalClosed follows on the notification
// channel once the reader has stopped.
func (s *Session) Close() error {
	s.mu.Lock()
	conn := s.conn
	if conn == nil {
		s.mu.Unlock()
		return ErrNotOpen
	}
	s.closing = true
	s.mu.Unlock()

	return conn.Close()
}

func (s *Session) read(conn *websocket.Conn) {
	s.notify <- Notification{Signal: SignalOpened}

	for {
		var frame []byte
		if err := websocket.Message.Receive(conn, &frame); err != nil {
			s.finish(conn, err)
			return
		}

		ev, err := protocol.Decode(frame)
		if err != nil {
			s.log.Warn("malformed frame from relay", "error", err)
			s.notify <- Notification{Signal: SignalMalformed, Raw: frame, Err: err}
			continue
		}
		s.notify <- Notification{Signal: SignalFrame, Event: ev}
	}
}

func (s *Session) finish(conn *websocket.Conn, readErr error) {
	s.mu.Lock()
	local := s.closing
	if s.conn == conn {
		s.conn = nil
		s.closing = false
	}
	s.mu.Unlock()
	_ = conn.Close()

	if !local && !errors.Is(readErr, io.EOF) {
		s.log.Warn("relay connection failed", "error", readErr)
		s.notify <- Notification{Signal: SignalErrored, Err: readErr}
	}
	s.log.Info("disconnected from relay", "url", s.cfg.URL)
	s.notify <- Notification{Signal: SignalClosed}
}
