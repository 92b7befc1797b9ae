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
	"github.com/alexjbarnes/pairchat/internal/cloudsync"
	"github.com/alexjbarnes/pairchat/internal/config"
	"github.com/alexjbarnes/pairchat/internal/logging"
	"github.com/spf13/cobra"
)

var Version = "dev"

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "pairchat",
	Short: "Two-party chat with history kept in your own cloud storage",
	Long: `pairchat keeps one-to-one conversations on this machine and mirrors
them to a single document in the signed-in account's app data folder,
so the same history follows you to every device you sign in from.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	// Disable completion command
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", userMessage(err))
		os.Exit(1)
	}
}

// userMessage prefers the readable sync description when there is one.
func userMessage(err error) string {
	var se *cloudsync.SyncError
	if errors.As(err, &se) {
		return se.Message
	}

	return err.Error()
}

// withClient loads configuration, opens the client, restores the session
// and runs fn. The state database is closed when fn returns.
func withClient(cmd *cobra.Command, fn func(ctx context.Context, c *app.Client) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.NewLogger(cfg.Environment, cfg.LogLevel)
	logger.Debug("pairchat starting", slog.String("version", Version), slog.String("command", cmd.Name()))

	client, closeState, err := app.Open(cfg, logger)
	if err != nil {
		return err
	}
	defer closeState()

	ctx := cmd.Context()
	client.Start(ctx)

	return fn(ctx, client)
}
