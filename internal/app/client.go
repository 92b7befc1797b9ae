// Package app composes the session, the conversation store, and cloud
// sync into the client that the CLI and the MCP server drive.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alexjbarnes/pairchat/internal/chat"
	"github.com/alexjbarnes/pairchat/internal/cloudsync"
	"github.com/alexjbarnes/pairchat/internal/contacts"
	"github.com/alexjbarnes/pairchat/internal/drive"
	apperrors "github.com/alexjbarnes/pairchat/internal/errors"
	"github.com/alexjbarnes/pairchat/internal/google"
	"github.com/alexjbarnes/pairchat/internal/models"
	"github.com/alexjbarnes/pairchat/internal/session"
	"github.com/alexjbarnes/pairchat/internal/state"
	"golang.org/x/sync/errgroup"
)

// revokeTimeout bounds the best-effort token revocation on sign-out.
const revokeTimeout = 10 * time.Second

// Options configures a Client.
type Options struct {
	Storage   state.Store
	Provider  IdentityProvider
	Documents cloudsync.DocumentStore

	// SharedIdentityFile is the identity record shared with sibling apps.
	// Empty disables it.
	SharedIdentityFile string

	// SafetyMargin is how long before expiry a grant stops being used.
	// Zero means none; negative means the session default.
	SafetyMargin time.Duration

	// EnableContacts adds the contacts scope to grant requests and turns
	// on profile lookups when a peer is selected.
	EnableContacts bool

	// AddressBook seeds the profile cache.
	AddressBook map[string]models.PeerProfile

	Logger *slog.Logger
}

// Client is the presentation-facing API.
type Client struct {
	session    *session.Session
	store      *chat.Store
	profiles   *contacts.Cache
	enricher   *contacts.Enricher
	acquirer   *cloudsync.Acquirer
	coord      *cloudsync.Coordinator
	provider   IdentityProvider
	sharedPath string
	logger     *slog.Logger
}

// New builds a client over opts.Storage. Nothing is restored until Start.
func New(opts Options) (*Client, error) {
	if opts.Storage == nil || opts.Provider == nil || opts.Documents == nil {
		return nil, errors.New("app: storage, provider and documents are required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	sess := session.New(opts.Storage, opts.SafetyMargin, logger.With(slog.String("component", "session")))
	store := chat.NewStore(opts.Storage, logger.With(slog.String("component", "store")))

	profiles := contacts.NewCache(opts.Storage, logger)
	if err := profiles.Seed(opts.AddressBook); err != nil {
		return nil, fmt.Errorf("seeding profiles: %w", err)
	}

	required := []string{drive.Scope}

	scopes := required
	if opts.EnableContacts {
		scopes = []string{drive.Scope, google.ContactsScope}
	}

	syncLogger := logger.With(slog.String("component", "cloudsync"))
	acq := cloudsync.NewAcquirer(sess, opts.Provider, scopes, required, syncLogger)

	c := &Client{
		session:  sess,
		store:    store,
		profiles: profiles,
		acquirer: acq,
		coord: cloudsync.NewCoordinator(cloudsync.Config{
			Session:   sess,
			Store:     store,
			Documents: opts.Documents,
			Acquirer:  acq,
			Ready:     opts.Provider.Ready,
		}, syncLogger),
		provider:   opts.Provider,
		sharedPath: opts.SharedIdentityFile,
		logger:     logger,
	}

	if opts.EnableContacts {
		c.enricher = contacts.NewEnricher(profiles, opts.Provider, c.currentToken, logger.With(slog.String("component", "contacts")))
	}

	return c, nil
}

// currentToken returns the stored grant's token without prompting.
func (c *Client) currentToken() (string, error) {
	g, ok := c.session.Grant()
	if !ok {
		return "", apperrors.ErrNoGrant
	}

	return g.AccessToken, nil
}

// Start begins provider discovery and restores the previous session.
func (c *Client) Start(ctx context.Context) session.Restored {
	c.provider.Start(ctx)

	r := c.session.Restore(c.sharedPath)
	if r.Identity != nil {
		c.logger.Info("session restored",
			slog.String("identity", r.Identity.ID),
			slog.String("source", r.Source),
			slog.Bool("grant_valid", r.GrantValid),
		)
	}

	return r
}

// Bootstrap pulls the remote document when there is a signed-in identity
// with a valid grant. Without a grant nothing happens and NeedsManualSync
// reports true.
func (c *Client) Bootstrap(ctx context.Context) {
	if !c.session.Authenticated() {
		return
	}

	if !c.session.HasValidGrant() {
		c.logger.Info("cloud sync needs a manual sync to authorize")
		return
	}

	c.coord.Bootstrap(ctx)
}

// Run bootstraps and then serves the push queue and the shared identity
// watcher until ctx is cancelled.
func (c *Client) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		c.Bootstrap(gctx)
		return nil
	})

	g.Go(func() error {
		return c.coord.Run(gctx)
	})

	g.Go(func() error {
		return c.session.WatchShared(gctx, c.sharedPath, func(id models.Identity) {
			c.switchIdentity(gctx, id)
		})
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return nil
	}

	return err
}

// switchIdentity follows a sign-in made by a sibling app.
func (c *Client) switchIdentity(ctx context.Context, id models.Identity) {
	c.logger.Info("shared identity changed", slog.String("identity", id.ID))

	if err := c.session.Teardown(); err != nil {
		c.logger.Warn("teardown before identity switch failed", slog.String("error", err.Error()))
	}

	if err := c.session.SignIn(id); err != nil {
		c.logger.Warn("identity switch failed", slog.String("error", err.Error()))
		return
	}

	c.Bootstrap(ctx)
}

// SignIn runs the interactive sign-in and makes the result the current
// identity.
func (c *Client) SignIn(ctx context.Context) (*models.Identity, error) {
	id, err := c.provider.SignIn(ctx)
	if err != nil {
		return nil, err
	}

	if err := c.session.SignIn(*id); err != nil {
		return nil, err
	}

	return c.session.Identity(), nil
}

// SignOut revokes the current grant (best-effort) and tears the session
// down. Local messages and the selected peer are kept.
func (c *Client) SignOut(ctx context.Context) error {
	if g, ok := c.session.Grant(); ok {
		rctx, cancel := context.WithTimeout(ctx, revokeTimeout)
		if err := c.provider.Revoke(rctx, g.AccessToken); err != nil {
			c.logger.Warn("token revocation failed", slog.String("error", err.Error()))
		}
		cancel()
	}

	return c.session.Teardown()
}

// Identity returns the signed-in identity, or nil.
func (c *Client) Identity() *models.Identity {
	return c.session.Identity()
}

// Peer returns the selected peer id.
func (c *Client) Peer() string {
	return c.session.Peer()
}

// SelectPeer makes peer the active conversation partner. An empty peer
// clears the selection. With contacts enabled the peer's profile is
// looked up, best-effort.
func (c *Client) SelectPeer(ctx context.Context, peer string) error {
	peer = chat.NormalizeID(peer)

	if err := c.session.SelectPeer(peer); err != nil {
		return err
	}

	if peer != "" && c.enricher != nil && c.session.Authenticated() {
		c.enricher.Enrich(ctx, peer)
	}

	return nil
}

// Profile returns display data for peer from the profile cache.
func (c *Client) Profile(peer string) (models.PeerProfile, bool) {
	return c.profiles.Get(peer)
}

// Send appends text to the conversation with the selected peer and
// schedules a push. It returns (nil, nil) for blank text. Without an
// identity or a peer nothing is stored or scheduled, and ErrNotSignedIn
// or ErrNoPeer tells the caller which one to fix.
func (c *Client) Send(text string) (*models.Message, error) {
	id := c.session.Identity()
	if id == nil {
		return nil, apperrors.ErrNotSignedIn
	}

	peer := c.session.Peer()
	if peer == "" {
		return nil, apperrors.ErrNoPeer
	}

	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	msg, err := c.store.Append(id, peer, text)
	if err != nil {
		return nil, fmt.Errorf("saving message: %w", err)
	}

	c.coord.SchedulePush()

	return msg, nil
}

// Flush pushes a scheduled change immediately. Used by one-shot commands
// that exit without running the push queue.
func (c *Client) Flush(ctx context.Context) error {
	return c.coord.Flush(ctx)
}

// Thread returns the conversation with the selected peer.
func (c *Client) Thread() []models.Message {
	return c.ThreadWith(c.session.Peer())
}

// ThreadWith returns the conversation with peer.
func (c *Client) ThreadWith(peer string) []models.Message {
	id := c.session.Identity()
	if id == nil || peer == "" {
		return []models.Message{}
	}

	return c.store.Thread(id.ID, peer)
}

// Recent lists the signed-in identity's conversations, newest first.
func (c *Client) Recent() []chat.Summary {
	id := c.session.Identity()
	if id == nil {
		return nil
	}

	return c.store.Recent(id.ID, c.profiles.All())
}

// SyncNow pulls on request of the user, prompting for consent when there
// is no valid grant. The error, if any, is a *cloudsync.SyncError.
func (c *Client) SyncNow(ctx context.Context) error {
	return c.coord.SyncNow(ctx)
}

// Status returns the sync status and the error behind the last failure.
func (c *Client) Status() (cloudsync.Status, error) {
	return c.coord.Status(), c.coord.LastError()
}

// Unsent returns how many sent messages have not reached the remote
// document yet.
func (c *Client) Unsent() int {
	return c.store.Pending()
}

// NeedsManualSync reports whether sync waits for an explicit SyncNow.
func (c *Client) NeedsManualSync() bool {
	return c.coord.NeedsManualSync()
}

// OnIdentityChange registers fn for sign-in, sign-out, and identity
// switches. fn receives nil on sign-out.
func (c *Client) OnIdentityChange(fn func(*models.Identity)) {
	c.session.OnIdentityChange(fn)
}

// OnStatusChange registers fn for sync status transitions.
func (c *Client) OnStatusChange(fn func(cloudsync.Status, error)) {
	c.coord.OnStatus(fn)
}

// OnThreadChange registers fn for store mutations. key is the changed
// conversation, or "" when the whole store was replaced.
func (c *Client) OnThreadChange(fn func(key string)) {
	c.store.OnChange(fn)
}
