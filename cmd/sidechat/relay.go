package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/comigor/sidechat/internal/agent"
	"github.com/comigor/sidechat/internal/llm"
	"github.com/comigor/sidechat/internal/logger"
	"github.com/comigor/sidechat/internal/relay"
)

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Run the broadcast relay",
	Long: `Accepts websocket connections and re-sends every message to all other
connected clients, tagged with the sender's connection id.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		hub := relay.NewHub(relay.Options{
			Welcome:            cfg.Relay.Welcome,
			AnnounceDepartures: cfg.Relay.AnnounceDepartures,
		})
		return serve(cmd.Context(), hub.Handler())
	},
}

var assistantCmd = &cobra.Command{
	Use:   "assistant",
	Short: "Run the relay with a streaming assistant answering every client",
	Long: `Like relay, but each message is answered by the configured model instead
of being broadcast. Replies are streamed as stream_start, stream_content and
stream_end frames. Set llm.provider to "echo" to run without a model.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a := agent.New(llm.NewClient(cfg.LLM), *cfg)
		defer func() {
			if err := a.Close(); err != nil {
				logger.L.Warn("failed to close MCP clients", "error", err)
			}
		}()

		welcome := cfg.Relay.Welcome
		if welcome == relay.DefaultWelcome {
			welcome = agent.Welcome
		}
		hub := relay.NewHub(relay.Options{
			Welcome:            welcome,
			AnnounceDepartures: cfg.Relay.AnnounceDepartures,
			Responder:          agent.NewResponder(a),
		})
		return serve(cmd.Context(), hub.Handler())
	},
}

// serve runs handler on the configured address until interrupted.
func serve(ctx context.Context, handler http.Handler) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{Addr: cfg.Server.Address(), Handler: handler}
	errCh := make(chan error, 1)
	go func() {
		logger.L.Info("starting server", "address", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		logger.L.Error("failed to start server", "error", err)
		return err
	case <-ctx.Done():
	}

	logger.L.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
