package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/comigor/sidechat/internal/logger"
	"github.com/comigor/sidechat/internal/protocol"
	"github.com/comigor/sidechat/internal/relay"
)

// Welcome is the greeting the assistant relay sends on connect.
const Welcome = "Connected to chat server. How can I help you today?"

// Streamer produces a streamed reply for a conversation.
type Streamer interface {
	Stream(ctx context.Context, messages []openai.ChatCompletionMessage, emit EmitFunc) (string, error)
	SystemPrompt() string
}

// Responder answers each connection's messages with a streamed model reply
// and keeps one conversation per connection.
type Responder struct {
	streamer Streamer
	now      func() time.Time

	mu            sync.Mutex
	conversations map[string][]openai.ChatCompletionMessage
}

var _ relay.Responder = (*Responder)(nil)

func NewResponder(s Streamer) *Responder {
	return &Responder{
		streamer:      s,
		now:           time.Now,
		conversations: make(map[string][]openai.ChatCompletionMessage),
	}
}

// Respond streams the reply to ev as stream_start, stream_content per delta
// and stream_end. On failure the stream is ended and an apology follows.
func (r *Responder) Respond(ctx context.Context, from string, out relay.Sender, ev protocol.Event) {
	text := strings.TrimSpace(ev.Text)
	if text == "" {
		logger.L.Debug("Ignoring empty message", "client", from)
		return
	}

	messages := r.remember(from, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: text})

	if err := out.Send(protocol.StreamStart()); err != nil {
		logger.L.Warn("Failed to start stream", "client", from, "error", err)
		return
	}

	reply, err := r.streamer.Stream(ctx, messages, func(chunk string) error {
		return out.Send(protocol.StreamContent(chunk))
	})
	if err != nil {
		logger.L.Error("Failed to generate reply", "client", from, "error", err)
		if err := out.Send(protocol.StreamEnd()); err != nil {
			return
		}
		now := r.now()
		apology := protocol.Event{
			Kind:        protocol.KindReceived,
			Text:        fmt.Sprintf("I apologize, but I encountered an error processing your request: %v. Please try again.", err),
			Timestamp:   &now,
			IsAutomated: true,
		}
		if err := out.Send(apology); err != nil {
			logger.L.Warn("Failed to send apology", "client", from, "error", err)
		}
		return
	}

	if err := out.Send(protocol.StreamEnd()); err != nil {
		logger.L.Warn("Failed to end stream", "client", from, "error", err)
	}
	r.remember(from, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: reply})
}

// Forget drops the conversation of connection id.
func (r *Responder) Forget(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conversations, id)
}

// remember appends msg to the conversation of id and returns the request
// messages for it, system prompt first.
func (r *Responder) remember(id string, msg openai.ChatCompletionMessage) []openai.ChatCompletionMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	conv := append(r.conversations[id], msg)
	r.conversations[id] = conv

	messages := make([]openai.ChatCompletionMessage, 0, len(conv)+1)
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: r.streamer.SystemPrompt()})
	return append(messages, conv...)
}

// Conversation returns a copy of the history kept for connection id.
func (r *Responder) Conversation(id string) []openai.ChatCompletionMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]openai.ChatCompletionMessage(nil), r.conversations[id]...)
}
