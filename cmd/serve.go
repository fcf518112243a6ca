package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/embedchat/embedchat/api"
	"github.com/embedchat/embedchat/internal/app"
	"github.com/embedchat/embedchat/internal/config"
)

// executeServe loads configuration, wires the application, and serves HTTP
// until SIGINT or SIGTERM.
func executeServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Setup(ctx, cfg)
	if err != nil {
		return fmt.Errorf("setting up application: %w", err)
	}
	defer a.Close()

	server := api.NewServer(api.Deps{
		Bots:     a.Bots,
		Store:    a.Store,
		Sessions: a.Sessions,
		Ingestor: a.Ingestor,
		Pipeline: a.Pipeline,
		Recorder: a.Recorder,
		EmbedDim: cfg.EmbedDim,
		Logger:   a.Logger.With("component", "api"),
	})

	return server.Run(ctx, cfg.Addr(), cfg.ShutdownTimeout)
}
