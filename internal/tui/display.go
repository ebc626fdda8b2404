package tui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/comigor/sidechat/internal/chat"
	"github.com/comigor/sidechat/internal/protocol"
)

type appendMsg struct {
	msg    protocol.Message
	markup string
}

type (
	clearMsg        struct{}
	openStreamMsg   struct{}
	updateStreamMsg struct{ markup string }
	closeStreamMsg  struct{}
	typingMsg       bool
	inputMsg        bool
)

// Display forwards the session's rendering calls to a running program.
type Display struct {
	send func(tea.Msg)
}

var _ chat.Display = (*Display)(nil)

// NewDisplay returns a display that delivers to p.
func NewDisplay(p *tea.Program) *Display {
	return &Display{send: p.Send}
}

func (d *Display) Clear() { d.send(clearMsg{}) }

func (d *Display) Append(msg protocol.Message, markup string) {
	d.send(appendMsg{msg: msg, markup: markup})
}

func (d *Display) OpenStream() { d.send(openStreamMsg{}) }

func (d *Display) UpdateStream(markup string) { d.send(updateStreamMsg{markup: markup}) }

func (d *Display) CloseStream() { d.send(closeStreamMsg{}) }

func (d *Display) ShowTyping() { d.send(typingMsg(true)) }

func (d *Display) HideTyping() { d.send(typingMsg(false)) }

func (d *Display) SetInputEnabled(enabled bool) { d.send(inputMsg(enabled)) }
