package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alexjbarnes/pairchat/internal/app"
	"github.com/alexjbarnes/pairchat/internal/config"
	"github.com/alexjbarnes/pairchat/internal/logging"
	"github.com/alexjbarnes/pairchat/internal/mcpserver"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"
)

var Version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// stdout carries the MCP stream, so logs go to stderr only.
	logger := logging.NewLogger(cfg.Environment, cfg.LogLevel)
	logger.Info("pairchat-mcp starting", slog.String("version", Version))

	client, closeState, err := app.Open(cfg, logger)
	if err != nil {
		return err
	}
	defer closeState()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client.Start(ctx)

	mcpServer := mcp.NewServer(
		&mcp.Implementation{Name: "pairchat-mcp", Version: Version},
		nil,
	)
	mcpserver.RegisterTools(mcpServer, client)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return client.Run(gctx)
	})

	g.Go(func() error {
		// The session ends when the MCP client closes stdin.
		defer stop()

		err := mcpServer.Run(gctx, &mcp.StdioTransport{})
		if errors.Is(err, context.Canceled) {
			return nil
		}

		return err
	})

	if err := g.Wait(); err != nil {
		return err
	}

	if err := client.Flush(context.Background()); err != nil {
		logger.Debug("final push skipped", slog.String("error", err.Error()))
	}

	return nil
}
