// Package stream implements the client side of the streaming reply protocol:
// stream_start opens a display slot, every stream_content chunk is appended to
// a buffer and the whole buffer is re-rendered, stream_end (or the loss of the
// transport) finalizes the buffer into one automated message.
package stream

import (
	"context"
	"strings"
	"time"

	"github.com/qmuntal/stateless"

	"github.com/comigor/sidechat/internal/format"
	"github.com/comigor/sidechat/internal/protocol"
)

// Receiver states.
const (
	StateIdle      = "Idle"
	StateStreaming = "Streaming"
)

// Receiver triggers.
const (
	triggerStart   = "Start"
	triggerContent = "Content"
	triggerEnd     = "End"
	triggerAbort   = "Abort"
)

// Sink receives the render and persistence effects of the receiver.
type Sink interface {
	// Started is called when a new display slot must be allocated.
	Started()
	// Updated carries the markup of the whole buffer so far.
	Updated(markup string)
	// Finished carries the finalized message.
	Finished(msg protocol.Message)
}

// Receiver is the streaming state machine. It is not safe for concurrent use;
// it belongs to the event loop that feeds it.
type Receiver struct {
	sm     *stateless.StateMachine
	sink   Sink
	buf    strings.Builder
	format func(string) string
	now    func() time.Time
}

// Option customises a Receiver.
type Option func(*Receiver)

// WithClock overrides the time source used to stamp finalized messages.
func WithClock(now func() time.Time) Option {
	return func(r *Receiver) { r.now = now }
}

// WithFormatter overrides the markup formatter.
func WithFormatter(f func(string) string) Option {
	return func(r *Receiver) { r.format = f }
}

// New returns an idle receiver reporting to sink.
func New(sink Sink, opts ...Option) *Receiver {
	r := &Receiver{
		sink:   sink,
		format: format.Format,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}

	sm := stateless.NewStateMachine(StateIdle)

	// Idle: only a start does anything. Content and end without a start are
	// out-of-order or duplicate deliveries and are dropped.
	sm.Configure(StateIdle).
		Permit(triggerStart, StateStreaming).
		Ignore(triggerContent).
		Ignore(triggerEnd).
		Ignore(triggerAbort)

	// Streaming: a fresh buffer on every entry, finalized on every exit. A
	// second start re-enters, so the running stream is finalized before the
	// new one begins.
	sm.Configure(StateStreaming).
		OnEntry(func(_ context.Context, _ ...any) error {
			r.buf.Reset()
			r.sink.Started()
			return nil
		}).
		OnExit(func(_ context.Context, _ ...any) error {
			r.finalize()
			return nil
		}).
		InternalTransition(triggerContent, func(_ context.Context, args ...any) error {
			if len(args) > 0 {
				if chunk, ok := args[0].(string); ok {
					r.buf.WriteString(chunk)
				}
			}
			r.sink.Updated(r.format(r.buf.String()))
			return nil
		}).
		PermitReentry(triggerStart).
		Permit(triggerEnd, StateIdle).
		Permit(triggerAbort, StateIdle)

	r.sm = sm
	return r
}

// Start handles stream_start.
func (r *Receiver) Start() error {
	return r.sm.Fire(triggerStart)
}

// Content handles stream_content. It is a no-op while idle.
func (r *Receiver) Content(chunk string) error {
	return r.sm.Fire(triggerContent, chunk)
}

// End handles stream_end. It is a no-op while idle.
func (r *Receiver) End() error {
	return r.sm.Fire(triggerEnd)
}

// Abort finalizes an in-flight stream after the transport closed or failed.
func (r *Receiver) Abort() error {
	return r.sm.Fire(triggerAbort)
}

// Handle routes a stream event to the matching trigger. It reports false for
// events that are not stream control events.
func (r *Receiver) Handle(ev protocol.Event) (bool, error) {
	switch ev.Kind {
	case protocol.KindStreamStart:
		return true, r.Start()
	case protocol.KindStreamContent:
		return true, r.Content(ev.Content)
	case protocol.KindStreamEnd:
		return true, r.End()
	default:
		return false, nil
	}
}

// Active reports whether a stream is in progress.
func (r *Receiver) Active() bool {
	return r.State() == StateStreaming
}

// State returns the current state name.
func (r *Receiver) State() string {
	s, _ := r.sm.MustState().(string)
	return s
}

// Buffer returns the raw text accumulated by the current stream.
func (r *Receiver) Buffer() string {
	return r.buf.String()
}

func (r *Receiver) finalize() {
	msg := protocol.Message{
		Text:        r.buf.String(),
		Kind:        protocol.KindReceived,
		IsAutomated: true,
		Timestamp:   r.now(),
	}
	r.buf.Reset()
	r.sink.Finished(msg)
}
