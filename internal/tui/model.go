// Package tui is the terminal chat panel: a bubbletea program that renders the
// transcript and feeds typed messages back to the chat session.
package tui

import (
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/comigor/sidechat/internal/protocol"
)

// Controller receives what the user does in the panel.
type Controller interface {
	Submit(text string)
	RequestToggle()
}

type entry struct {
	kind      protocol.Kind
	sender    string
	automated bool
	at        time.Time
	markup    string
}

// Model is the bubbletea model of the panel.
type Model struct {
	ctrl   Controller
	styles Styles
	now    func() time.Time

	textinput textinput.Model
	viewport  viewport.Model

	entries      []entry
	stream       entry
	streaming    bool
	typing       bool
	inputEnabled bool

	width  int
	height int
	ready  bool
}

// New returns a panel that reports to ctrl.
func New(ctrl Controller, st Styles) Model {
	ti := textinput.New()
	ti.Placeholder = "Type a message... (Enter to send, Ctrl+R to reconnect, Esc to quit)"
	ti.Prompt = "│ "
	ti.PromptStyle = st.Prompt
	ti.CharLimit = 4096
	ti.Width = 80
	ti.Focus()

	return Model{
		ctrl:         ctrl,
		styles:       st,
		now:          time.Now,
		textinput:    ti,
		viewport:     viewport.New(80, 20),
		inputEnabled: true,
	}
}

func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		tiCmd tea.Cmd
		vpCmd tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit

		case tea.KeyCtrlR:
			ctrl := m.ctrl
			return m, func() tea.Msg {
				ctrl.RequestToggle()
				return nil
			}

		case tea.KeyEnter:
			if !m.inputEnabled {
				return m, nil
			}
			text := strings.TrimSpace(m.textinput.Value())
			if text == "" {
				return m, nil
			}
			m.textinput.Reset()
			ctrl := m.ctrl
			return m, func() tea.Msg {
				ctrl.Submit(text)
				return nil
			}
		}

		if m.inputEnabled {
			m.textinput, tiCmd = m.textinput.Update(msg)
		}

	case tea.WindowSizeMsg:
		m.width = max(msg.Width, 0)
		m.height = max(msg.Height, 0)

		headerHeight := 2
		footerHeight := 2
		inputHeight := 1
		m.viewport.Width = max(m.width-2, 0)
		m.viewport.Height = max(m.height-headerHeight-footerHeight-inputHeight, 0)
		m.textinput.Width = max(m.width-4, 0)
		m.ready = true

	case clearMsg:
		m.entries = nil
		m.streaming = false
		m.typing = false
		m.inputEnabled = true
		m.textinput.Focus()

	case appendMsg:
		m.entries = append(m.entries, entry{
			kind:      msg.msg.Kind,
			sender:    msg.msg.SenderID,
			automated: msg.msg.IsAutomated,
			at:        msg.msg.Timestamp,
			markup:    msg.markup,
		})

	case openStreamMsg:
		m.stream = entry{kind: protocol.KindReceived, automated: true, at: m.now()}
		m.streaming = true

	case updateStreamMsg:
		m.stream.markup = msg.markup

	case closeStreamMsg:
		if m.streaming {
			m.entries = append(m.entries, m.stream)
			m.streaming = false
		}

	case typingMsg:
		m.typing = bool(msg)

	case inputMsg:
		m.inputEnabled = bool(msg)
		if m.inputEnabled {
			m.textinput.Focus()
		} else {
			m.textinput.Blur()
		}

	default:
		m.viewport, vpCmd = m.viewport.Update(msg)
		m.textinput, tiCmd = m.textinput.Update(msg)
		return m, tea.Batch(tiCmd, vpCmd)
	}

	m.viewport.SetContent(m.transcript())
	m.viewport.GotoBottom()
	return m, tea.Batch(tiCmd, vpCmd)
}

func (m Model) View() string {
	header := m.styles.Title.Render("sidechat")
	help := m.styles.Help.Render("Enter send | Ctrl+R connect/disconnect | Esc quit")
	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		"",
		m.viewport.View(),
		m.textinput.View(),
		help,
	)
}

// transcript renders every entry, the open stream and the typing indicator.
func (m Model) transcript() string {
	var b strings.Builder
	for _, e := range m.entries {
		b.WriteString(m.renderEntry(e))
		b.WriteString("\n")
	}
	if m.streaming {
		b.WriteString(m.renderEntry(m.stream))
		b.WriteString("\n")
	}
	if m.typing {
		b.WriteString(m.styles.Typing.Render("typing..."))
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) renderEntry(e entry) string {
	stamp := m.styles.Time.Render(e.at.Format("15:04"))
	body := Render(e.markup, m.styles)

	switch e.kind {
	case protocol.KindSystem:
		return stamp + " " + m.styles.System.Render(body)
	case protocol.KindSent:
		return stamp + " " + m.styles.Sent.Render("You") + ": " + body
	default:
		who := "Peer"
		if e.sender != "" {
			who = shortID(e.sender)
		}
		if e.automated {
			who = "AI"
		}
		return stamp + " " + m.styles.Received.Render(who) + ": " + body
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
