package tui

import "github.com/charmbracelet/lipgloss"

var (
	accent = lipgloss.Color("#8BC34A")
	muted  = lipgloss.Color("#7a8599")
	info   = lipgloss.Color("#2196F3")
	warn   = lipgloss.Color("#FFC107")
)

// Styles holds the look of every transcript element.
type Styles struct {
	Title    lipgloss.Style
	Sent     lipgloss.Style
	Received lipgloss.Style
	System   lipgloss.Style
	Time     lipgloss.Style
	Typing   lipgloss.Style
	Help     lipgloss.Style
	Prompt   lipgloss.Style
	Bold     lipgloss.Style
	Italic   lipgloss.Style
}

// DefaultStyles returns the terminal palette.
func DefaultStyles() Styles {
	return Styles{
		Title:    lipgloss.NewStyle().Bold(true).Foreground(accent).Padding(0, 1),
		Sent:     lipgloss.NewStyle().Bold(true).Foreground(accent),
		Received: lipgloss.NewStyle().Bold(true).Foreground(info),
		System:   lipgloss.NewStyle().Italic(true).Foreground(muted),
		Time:     lipgloss.NewStyle().Foreground(muted),
		Typing:   lipgloss.NewStyle().Italic(true).Foreground(warn),
		Help:     lipgloss.NewStyle().Foreground(muted),
		Prompt:   lipgloss.NewStyle().Foreground(accent),
		Bold:     lipgloss.NewStyle().Bold(true),
		Italic:   lipgloss.NewStyle().Italic(true),
	}
}

// PlainStyles renders without any decoration.
func PlainStyles() Styles {
	plain := lipgloss.NewStyle()
	return Styles{
		Title: plain, Sent: plain, Received: plain, System: plain, Time: plain,
		Typing: plain, Help: plain, Prompt: plain, Bold: plain, Italic: plain,
	}
}
