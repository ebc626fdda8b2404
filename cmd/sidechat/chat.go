package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/comigor/sidechat/internal/chat"
	"github.com/comigor/sidechat/internal/history"
	"github.com/comigor/sidechat/internal/logger"
	"github.com/comigor/sidechat/internal/transport"
	"github.com/comigor/sidechat/internal/tui"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Open the terminal chat panel",
	Long: `Connects to the relay at client.url and opens the chat panel. The
conversation is kept in client.history_path until the connection changes.
Logs go to log.file, or nowhere, since the panel owns the terminal.`,
	RunE: runChat,
}

// sessionRef lets the panel be built before the session it reports to.
type sessionRef struct{ s *chat.Session }

func (r *sessionRef) Submit(text string) { r.s.Submit(text) }

func (r *sessionRef) RequestToggle() { r.s.RequestToggle() }

func runChat(cmd *cobra.Command, args []string) error {
	var logOut io.Writer = io.Discard
	if cfg.Log.File != "" {
		f, err := os.OpenFile(cfg.Log.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer f.Close()
		logOut = f
	}
	logger.SetOutput(logOut)

	store := history.NewSQLite(cfg.Client.HistoryPath)
	defer func() {
		if err := store.Close(); err != nil {
			logger.L.Warn("failed to close history store", "error", err)
		}
	}()

	conn := transport.New(transport.Config{URL: cfg.Client.URL, Origin: cfg.Client.Origin})
	defer func() {
		if err := conn.Close(); err != nil && !errors.Is(err, transport.ErrNotOpen) {
			logger.L.Warn("failed to close connection", "error", err)
		}
	}()

	ref := &sessionRef{}
	p := tea.NewProgram(tui.New(ref, tui.DefaultStyles()), tea.WithAltScreen())
	ref.s = chat.New(conn, history.NewLog(store), tui.NewDisplay(p))

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	go func() {
		ref.s.Start(ctx)
		if err := ref.s.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.L.Error("chat session stopped", "error", err)
		}
	}()

	_, err := p.Run()
	return err
}
