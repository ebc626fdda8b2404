// Package chat is the client side of sidechat: one event loop that owns the
// transport, the streaming receiver, the history log and the display.
package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/comigor/sidechat/internal/format"
	"github.com/comigor/sidechat/internal/history"
	"github.com/comigor/sidechat/internal/logger"
	"github.com/comigor/sidechat/internal/protocol"
	"github.com/comigor/sidechat/internal/stream"
	"github.com/comigor/sidechat/internal/transport"
)

// Notices shown to the user. They are never persisted.
const (
	NoticeConnected     = "Connected to chat server"
	NoticeDisconnected  = "Disconnected from chat server"
	NoticeSocketError   = "WebSocket error occurred"
	NoticeConnectFailed = "Failed to connect to chat server"
	NoticeBadFrame      = "Error processing server response"
)

// Transport is the connection the session drives.
type Transport interface {
	Connect(ctx context.Context) error
	Send(ev protocol.Event) error
	Close() error
	Open() bool
	Notifications() <-chan transport.Notification
}

// Display renders the conversation. Every call is made from the session's
// event loop.
type Display interface {
	Clear()
	Append(msg protocol.Message, markup string)
	OpenStream()
	UpdateStream(markup string)
	CloseStream()
	ShowTyping()
	HideTyping()
	SetInputEnabled(enabled bool)
}

// Session is a chat client. Handle, SendText and Toggle are not safe for
// concurrent use; call them from Run's goroutine, or post them with Submit
// and RequestToggle.
type Session struct {
	transport Transport
	history   *history.Log
	display   Display
	receiver  *stream.Receiver
	log       *slog.Logger
	now       func() time.Time

	actions chan func(context.Context)

	// opened is set once SignalOpened has been handled for the current
	// connection; errored marks a connection that ended with SignalErrored.
	opened  bool
	errored bool
}

// Option customises a Session.
type Option func(*Session)

// WithClock overrides the time source for outgoing messages and notices.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// WithLogger overrides the session logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.log = l }
}

// New returns a session over t that logs to h and renders to d.
func New(t Transport, h *history.Log, d Display, opts ...Option) *Session {
	s := &Session{
		transport: t,
		history:   h,
		display:   d,
		log:       logger.L,
		now:       time.Now,
		actions:   make(chan func(context.Context), 16),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.receiver = stream.New(streamSink{s}, stream.WithClock(s.now))
	return s
}

// Start restores the saved history onto the display and connects.
func (s *Session) Start(ctx context.Context) {
	restored, err := s.history.Restore(ctx)
	if err != nil {
		s.log.Error("failed to restore history", "error", err)
	}
	for _, msg := range restored {
		s.display.Append(msg, format.Format(msg.Text))
	}
	s.connect(ctx)
}

// Run handles notifications and posted actions until ctx is done.
func (s *Session) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case n := <-s.transport.Notifications():
			s.Handle(ctx, n)
		case action := <-s.actions:
			action(ctx)
		}
	}
}

// Submit posts text to be sent from the event loop.
func (s *Session) Submit(text string) {
	s.actions <- func(ctx context.Context) { s.SendText(ctx, text) }
}

// RequestToggle posts a connect/disconnect to the event loop.
func (s *Session) RequestToggle() {
	s.actions <- s.Toggle
}

// Handle applies one transport notification.
func (s *Session) Handle(ctx context.Context, n transport.Notification) {
	switch n.Signal {
	case transport.SignalOpened:
		s.opened = true
		s.errored = false
		s.resetHistory(ctx)
		s.displaySystem(ctx, NoticeConnected)
	case transport.SignalClosed:
		s.opened = false
		if s.errored {
			// the error notice already covers this close
			s.errored = false
			return
		}
		s.dropStream()
		s.resetHistory(ctx)
		s.displaySystem(ctx, NoticeDisconnected)
	case transport.SignalErrored:
		s.log.Warn("transport error", "error", n.Err)
		s.opened = false
		s.errored = true
		s.dropStream()
		s.resetHistory(ctx)
		s.displaySystem(ctx, NoticeSocketError)
	case transport.SignalMalformed:
		s.log.Warn("error parsing message", "error", n.Err, "frame", string(n.Raw))
		s.displaySystem(ctx, NoticeBadFrame)
	case transport.SignalFrame:
		s.handleEvent(ctx, n.Event)
	}
}

func (s *Session) handleEvent(ctx context.Context, ev protocol.Event) {
	handled, err := s.receiver.Handle(ev)
	if err != nil {
		s.log.Error("stream receiver rejected event", "kind", ev.Kind, "error", err)
		return
	}
	if handled {
		if ev.Kind == protocol.KindStreamEnd {
			s.display.SetInputEnabled(true)
		}
		return
	}

	s.display.HideTyping()
	msg := ev.Message(s.now())
	s.displayMessage(ctx, msg)
	if msg.IsAutomated {
		s.display.SetInputEnabled(true)
	}
}

// SendText sends a locally authored message. Empty text and sends before the
// connection's opened signal has been handled are ignored.
func (s *Session) SendText(ctx context.Context, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if !s.opened || !s.transport.Open() {
		s.log.Debug("dropping message, not connected")
		return
	}

	msg := protocol.Message{Text: text, Kind: protocol.KindSent, Timestamp: s.now()}
	s.displayMessage(ctx, msg)
	if err := s.transport.Send(protocol.FromMessage(msg)); err != nil {
		if errors.Is(err, transport.ErrNotOpen) {
			s.log.Debug("dropping message, not connected")
		} else {
			s.log.Warn("send failed", "error", err)
		}
		return
	}

	s.display.SetInputEnabled(false)
	s.display.ShowTyping()
}

// Toggle closes an open connection or opens a closed one.
func (s *Session) Toggle(ctx context.Context) {
	if s.transport.Open() {
		if err := s.transport.Close(); err != nil && !errors.Is(err, transport.ErrNotOpen) {
			s.log.Warn("close failed", "error", err)
		}
		return
	}
	s.connect(ctx)
}

// Receiver exposes the streaming state for inspection.
func (s *Session) Receiver() *stream.Receiver {
	return s.receiver
}

func (s *Session) connect(ctx context.Context) {
	if err := s.transport.Connect(ctx); err != nil {
		if errors.Is(err, transport.ErrAlreadyOpen) {
			return
		}
		s.log.Error("error connecting to relay", "error", err)
		s.resetHistory(ctx)
		s.displaySystem(ctx, NoticeConnectFailed)
	}
}

// displayMessage formats msg once, renders it and logs it unless it is a
// system notice.
func (s *Session) displayMessage(ctx context.Context, msg protocol.Message) {
	s.display.Append(msg, format.Format(msg.Text))
	s.persist(ctx, msg)
}

func (s *Session) displaySystem(ctx context.Context, text string) {
	s.displayMessage(ctx, protocol.Message{Text: text, Kind: protocol.KindSystem, Timestamp: s.now()})
}

func (s *Session) persist(ctx context.Context, msg protocol.Message) {
	if _, err := s.history.Append(ctx, msg); err != nil {
		s.log.Error("failed to save history", "error", err)
	}
}

// resetHistory discards the log and clears the display. History never
// survives a connection transition.
func (s *Session) resetHistory(ctx context.Context) {
	if err := s.history.Reset(ctx); err != nil {
		s.log.Error("failed to reset history", "error", err)
	}
	s.display.Clear()
}

// dropStream finalizes a stream that the transport cut short.
func (s *Session) dropStream() {
	if err := s.receiver.Abort(); err != nil {
		s.log.Error("failed to finalize stream", "error", err)
	}
}

// streamSink adapts the receiver's effects to the display and history.
type streamSink struct{ s *Session }

func (k streamSink) Started() {
	k.s.display.HideTyping()
	k.s.display.OpenStream()
}

func (k streamSink) Updated(markup string) {
	k.s.display.UpdateStream(markup)
}

func (k streamSink) Finished(msg protocol.Message) {
	k.s.display.CloseStream()
	k.s.persist(context.Background(), msg)
}
