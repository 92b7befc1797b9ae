package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/alexjbarnes/pairchat/internal/app"
	"github.com/alexjbarnes/pairchat/internal/chat"
	"github.com/alexjbarnes/pairchat/internal/cloudsync"
	apperrors "github.com/alexjbarnes/pairchat/internal/errors"
	"github.com/alexjbarnes/pairchat/internal/models"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func init() {
	loginCmd.Flags().Bool("no-sync", false, "skip the initial cloud sync")
	threadCmd.Flags().IntP("limit", "n", 20, "number of trailing messages to show (0 for all)")
	peerCmd.Flags().Bool("clear", false, "clear the selected peer")

	rootCmd.AddCommand(loginCmd, logoutCmd, whoamiCmd, peerCmd, sendCmd, threadCmd, recentCmd, syncCmd, statusCmd, chatCmd)
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in with your Google account in the browser",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		noSync, _ := cmd.Flags().GetBool("no-sync")

		return withClient(cmd, func(ctx context.Context, c *app.Client) error {
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Opening the browser to sign in...")

			id, err := c.SignIn(ctx)
			if err != nil {
				return err
			}

			fmt.Fprintf(out, "Signed in as %s\n", formatIdentity(id))

			if noSync {
				return nil
			}

			fmt.Fprintln(out, "Authorizing cloud storage...")

			if err := c.SyncNow(ctx); err != nil {
				return err
			}

			fmt.Fprintln(out, "Chat history is up to date.")

			return nil
		})
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out and forget the cloud authorization",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withClient(cmd, func(ctx context.Context, c *app.Client) error {
			if c.Identity() == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "Not signed in.")
				return nil
			}

			if err := c.SignOut(ctx); err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), "Signed out. Local messages were kept.")

			return nil
		})
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the signed-in account and selected peer",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withClient(cmd, func(_ context.Context, c *app.Client) error {
			out := cmd.OutOrStdout()

			id := c.Identity()
			if id == nil {
				fmt.Fprintln(out, "Not signed in. Run `pairchat login`.")
				return nil
			}

			fmt.Fprintf(out, "Signed in as %s\n", formatIdentity(id))

			if peer := c.Peer(); peer != "" {
				fmt.Fprintf(out, "Chatting with %s\n", peer)
			} else {
				fmt.Fprintln(out, "No peer selected. Run `pairchat peer <address>`.")
			}

			if c.NeedsManualSync() {
				fmt.Fprintln(out, "Cloud sync is not authorized. Run `pairchat sync`.")
			}

			return nil
		})
	},
}

var peerCmd = &cobra.Command{
	Use:   "peer [address]",
	Short: "Show or select the peer to chat with",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		clearPeer, _ := cmd.Flags().GetBool("clear")

		return withClient(cmd, func(ctx context.Context, c *app.Client) error {
			out := cmd.OutOrStdout()

			switch {
			case clearPeer:
				if err := c.SelectPeer(ctx, ""); err != nil {
					return err
				}

				fmt.Fprintln(out, "Peer cleared.")
			case len(args) == 1:
				if err := c.SelectPeer(ctx, args[0]); err != nil {
					return err
				}

				fmt.Fprintf(out, "Chatting with %s\n", formatPeer(c, c.Peer()))
			case c.Peer() == "":
				fmt.Fprintln(out, "No peer selected.")
			default:
				fmt.Fprintln(out, formatPeer(c, c.Peer()))
			}

			return nil
		})
	},
}

var sendCmd = &cobra.Command{
	Use:   "send <text>...",
	Short: "Send a message to the selected peer",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *app.Client) error {
			msg, err := c.Send(strings.Join(args, " "))
			if err != nil {
				return err
			}

			if msg == nil {
				return nil
			}

			if err := c.Flush(ctx); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "Saved locally, not uploaded: %s\n", cloudsync.Describe(err))
			}

			return nil
		})
	},
}

var threadCmd = &cobra.Command{
	Use:   "thread [peer]",
	Short: "Show the conversation with the selected or given peer",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		return withClient(cmd, func(ctx context.Context, c *app.Client) error {
			if c.Identity() == nil {
				return apperrors.ErrNotSignedIn
			}

			peer := c.Peer()
			if len(args) == 1 {
				peer = chat.NormalizeID(args[0])
			}

			if peer == "" {
				return apperrors.ErrNoPeer
			}

			c.Bootstrap(ctx)

			msgs := c.ThreadWith(peer)
			if limit > 0 && len(msgs) > limit {
				msgs = msgs[len(msgs)-limit:]
			}

			printThread(cmd.OutOrStdout(), c.Identity(), msgs)

			return nil
		})
	},
}

var recentCmd = &cobra.Command{
	Use:   "recent",
	Short: "List conversations, most recent first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withClient(cmd, func(ctx context.Context, c *app.Client) error {
			if c.Identity() == nil {
				return apperrors.ErrNotSignedIn
			}

			c.Bootstrap(ctx)

			out := cmd.OutOrStdout()

			recent := c.Recent()
			if len(recent) == 0 {
				fmt.Fprintln(out, "No conversations yet.")
				return nil
			}

			for _, s := range recent {
				fmt.Fprintln(out, formatSummary(s))
			}

			return nil
		})
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Pull the chat history from cloud storage now",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withClient(cmd, func(ctx context.Context, c *app.Client) error {
			if err := c.SyncNow(ctx); err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), "Chat history is up to date.")

			return nil
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the cloud sync status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withClient(cmd, func(ctx context.Context, c *app.Client) error {
			c.Bootstrap(ctx)

			status, lastErr := c.Status()
			fmt.Fprintln(cmd.OutOrStdout(), formatStatus(status, lastErr, c.NeedsManualSync(), c.Unsent()))

			return nil
		})
	},
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Interactive chat with the selected peer",
	Long: `Interactive chat. Lines are sent to the selected peer. Commands:
  /peer <address>   switch peer
  /sync             pull from cloud storage
  /status           show sync status
  /quit             leave`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withClient(cmd, func(ctx context.Context, c *app.Client) error {
			if c.Identity() == nil {
				return apperrors.ErrNotSignedIn
			}

			return runChat(ctx, c, cmd.InOrStdin(), cmd.OutOrStdout())
		})
	},
}

// runChat runs the client in the background and reads lines from in
// until EOF, /quit, or cancellation.
func runChat(ctx context.Context, c *app.Client, in io.Reader, out io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var outMu sync.Mutex

	printf := func(format string, a ...any) {
		outMu.Lock()
		defer outMu.Unlock()
		fmt.Fprintf(out, format, a...)
	}

	// Print messages as they land, from either side.
	var shownMu sync.Mutex

	shown := len(c.Thread())

	showNew := func() {
		shownMu.Lock()
		defer shownMu.Unlock()

		msgs := c.Thread()
		if len(msgs) < shown {
			shown = 0
		}

		for _, m := range msgs[shown:] {
			printf("%s\n", formatMessage(c.Identity(), m))
		}

		shown = len(msgs)
	}

	c.OnThreadChange(func(string) { showNew() })
	c.OnStatusChange(func(s cloudsync.Status, err error) {
		if s == cloudsync.StatusError {
			printf("! %s\n", cloudsync.Describe(err))
		}
	})

	if peer := c.Peer(); peer != "" {
		printf("Chatting with %s. /quit to leave.\n", formatPeer(c, peer))
		printThread(out, c.Identity(), c.Thread())
	} else {
		printf("No peer selected. Use /peer <address>.\n")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.Run(gctx) })

	lines := make(chan string)

	go func() {
		defer close(lines)

		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-gctx.Done():
				return
			}
		}
	}()

	g.Go(func() error {
		defer cancel()

		for {
			select {
			case <-gctx.Done():
				return nil
			case line, ok := <-lines:
				if !ok {
					return nil
				}

				if quit := handleLine(gctx, c, line, printf, func() {
					shownMu.Lock()
					shown = len(c.Thread())
					shownMu.Unlock()
				}); quit {
					return nil
				}
			}
		}
	})

	err := g.Wait()

	// Deliver anything typed just before leaving.
	if ferr := c.Flush(context.WithoutCancel(ctx)); ferr != nil && !errors.Is(ferr, apperrors.ErrNoGrant) {
		fmt.Fprintf(os.Stderr, "Last message not uploaded: %s\n", cloudsync.Describe(ferr))
	}

	return err
}

// handleLine runs one line of input. It reports whether to quit.
func handleLine(ctx context.Context, c *app.Client, line string, printf func(string, ...any), resetShown func()) bool {
	line = strings.TrimSpace(line)

	cmd, arg, _ := strings.Cut(line, " ")

	switch cmd {
	case "":
		return false
	case "/quit", "/exit":
		return true
	case "/peer":
		if err := c.SelectPeer(ctx, arg); err != nil {
			printf("! %s\n", err)
			return false
		}

		resetShown()
		printf("Chatting with %s\n", formatPeer(c, c.Peer()))
		printThreadf(printf, c.Identity(), c.Thread())
	case "/sync":
		if err := c.SyncNow(ctx); err != nil {
			printf("! %s\n", userMessage(err))
		}
	case "/status":
		status, lastErr := c.Status()
		printf("%s\n", formatStatus(status, lastErr, c.NeedsManualSync(), c.Unsent()))
	default:
		if _, err := c.Send(line); err != nil {
			printf("! %s\n", err)
		}
	}

	return false
}

func printThread(w io.Writer, self *models.Identity, msgs []models.Message) {
	printThreadf(func(format string, a ...any) { fmt.Fprintf(w, format, a...) }, self, msgs)
}

func printThreadf(printf func(string, ...any), self *models.Identity, msgs []models.Message) {
	if len(msgs) == 0 {
		printf("(no messages)\n")
		return
	}

	for _, m := range msgs {
		printf("%s\n", formatMessage(self, m))
	}
}
