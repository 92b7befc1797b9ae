package cloudsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/alexjbarnes/pairchat/internal/chat"
	apperrors "github.com/alexjbarnes/pairchat/internal/errors"
	"github.com/alexjbarnes/pairchat/internal/models"
	"github.com/alexjbarnes/pairchat/internal/session"
	"github.com/tidwall/gjson"
)

// Status is the observable state of the coordinator.
type Status string

const (
	StatusIdle           Status = "idle"
	StatusAuthenticating Status = "authenticating"
	StatusSyncing        Status = "syncing"
	StatusError          Status = "error"
)

// Config wires a Coordinator to its collaborators.
type Config struct {
	Session   *session.Session
	Store     *chat.Store
	Documents DocumentStore
	Acquirer  *Acquirer

	// Ready blocks until the identity provider can be used. Nil means
	// always ready.
	Ready func(context.Context) error
}

// Coordinator runs pulls and pushes between the local store and the
// remote document and reports its status.
type Coordinator struct {
	session  *session.Session
	store    *chat.Store
	docs     DocumentStore
	acquirer *Acquirer
	binding  *Binding
	ready    func(context.Context) error
	logger   *slog.Logger

	// opMu serializes remote operations so at most one pull or push is
	// in flight.
	opMu sync.Mutex

	mu      sync.Mutex
	status  Status
	lastErr error

	observersMu sync.Mutex
	observers   []func(Status, error)

	// pushCh holds at most one pending push request.
	pushCh chan struct{}
}

// NewCoordinator creates an idle coordinator.
func NewCoordinator(cfg Config, logger *slog.Logger) *Coordinator {
	ready := cfg.Ready
	if ready == nil {
		ready = func(context.Context) error { return nil }
	}

	return &Coordinator{
		session:  cfg.Session,
		store:    cfg.Store,
		docs:     cfg.Documents,
		acquirer: cfg.Acquirer,
		binding:  NewBinding(cfg.Session, cfg.Documents, logger),
		ready:    ready,
		logger:   logger,
		status:   StatusIdle,
		pushCh:   make(chan struct{}, 1),
	}
}

// OnStatus registers fn to be called on every status transition. fn runs
// synchronously on the goroutine that made the transition.
func (c *Coordinator) OnStatus(fn func(Status, error)) {
	c.observersMu.Lock()
	c.observers = append(c.observers, fn)
	c.observersMu.Unlock()
}

// Status returns the current status.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.status
}

// LastError returns the error behind the most recent failure. It is
// cleared by the next successful operation.
func (c *Coordinator) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.lastErr
}

// NeedsManualSync reports whether a user is signed in without a usable
// grant, so a sync has to be started explicitly.
func (c *Coordinator) NeedsManualSync() bool {
	return c.session.Authenticated() && !c.session.HasValidGrant()
}

func (c *Coordinator) setStatus(s Status, err error) {
	c.mu.Lock()
	changed := c.status != s || err != nil
	c.status = s

	switch {
	case err != nil:
		c.lastErr = err
	case s == StatusIdle:
		c.lastErr = nil
	}

	lastErr := c.lastErr
	c.mu.Unlock()

	if !changed {
		return
	}

	c.observersMu.Lock()
	observers := make([]func(Status, error), len(c.observers))
	copy(observers, c.observers)
	c.observersMu.Unlock()

	for _, fn := range observers {
		fn(s, lastErr)
	}
}

// finish records the outcome of an operation.
func (c *Coordinator) finish(op string, err error) {
	if err == nil {
		c.setStatus(StatusIdle, nil)
		return
	}

	if errors.Is(err, apperrors.ErrUnauthorized) {
		c.session.InvalidateGrant()
	}

	c.logger.Warn("cloud sync failed", slog.String("op", op), slog.String("error", err.Error()))
	c.setStatus(StatusError, err)
}

// Pull fetches the remote document and makes it the local store, with
// messages sent here but not yet uploaded layered on top and pushed
// again. When the remote has no data and the local store does, local is
// pushed up instead. Failures end in StatusError and are not returned.
func (c *Coordinator) Pull(ctx context.Context) {
	if err := c.pull(ctx); errors.Is(err, apperrors.ErrNotSignedIn) {
		c.logger.Debug("pull skipped", slog.String("reason", err.Error()))
	}
}

// SyncNow is a user-initiated pull. It returns a *SyncError whose
// message is fit to show the user.
func (c *Coordinator) SyncNow(ctx context.Context) error {
	if err := c.pull(ctx); err != nil {
		return &SyncError{Message: Describe(err), Err: err}
	}

	return nil
}

// Bootstrap waits for the identity provider and pulls.
func (c *Coordinator) Bootstrap(ctx context.Context) {
	if !c.session.Authenticated() {
		return
	}

	if err := c.ready(ctx); err != nil {
		c.finish("bootstrap", err)
		return
	}

	c.Pull(ctx)
}

func (c *Coordinator) pull(ctx context.Context) error {
	if !c.session.Authenticated() {
		return apperrors.ErrNotSignedIn
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()

	err := c.doPull(ctx)
	c.finish("pull", err)

	return err
}

func (c *Coordinator) doPull(ctx context.Context) error {
	token, err := c.token(ctx)
	if err != nil {
		return err
	}

	c.setStatus(StatusSyncing, nil)

	fileID, err := c.binding.Ensure(ctx, token)
	if err != nil {
		return err
	}

	body, err := c.docs.ReadDocument(ctx, token, fileID)
	if err != nil {
		return fmt.Errorf("reading remote document: %w", err)
	}

	if remote, ok := decodeRemote(body); ok && len(remote) > 0 {
		var self string
		if id := c.session.Identity(); id != nil {
			self = id.ID
		}

		layered, err := c.store.Rebase(remote, self)
		if err != nil {
			return fmt.Errorf("replacing local store: %w", err)
		}

		c.logger.Info("pulled remote document", slog.Int("threads", len(remote)))

		if layered == 0 {
			return nil
		}

		c.logger.Info("pushing messages the remote document lacks", slog.Int("messages", layered))

		return c.write(ctx, token, fileID)
	}

	if c.store.Len() == 0 {
		return nil
	}

	c.logger.Info("remote document has no data, pushing local store")

	return c.write(ctx, token, fileID)
}

// token returns a usable access token, acquiring a grant when there is
// none.
func (c *Coordinator) token(ctx context.Context) (string, error) {
	if g, ok := c.session.Grant(); ok {
		return g.AccessToken, nil
	}

	if err := c.ready(ctx); err != nil {
		return "", err
	}

	c.setStatus(StatusAuthenticating, nil)

	return c.acquirer.Token(ctx)
}

// decodeRemote parses a remote document body. The bool is false when the
// body is not a JSON object of threads.
func decodeRemote(body []byte) (models.Conversations, bool) {
	if !gjson.ValidBytes(body) || !gjson.ParseBytes(body).IsObject() {
		return nil, false
	}

	var conv models.Conversations
	if err := json.Unmarshal(body, &conv); err != nil {
		return nil, false
	}

	return conv, true
}

// Push overwrites the remote document with the full local store. It
// uses the current grant and never prompts; without a valid grant it
// returns ErrNoGrant and the unsent messages stay pending for the next
// pull.
func (c *Coordinator) Push(ctx context.Context) error {
	if !c.session.Authenticated() {
		return apperrors.ErrNotSignedIn
	}

	grant, ok := c.session.Grant()
	if !ok {
		return apperrors.ErrNoGrant
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.setStatus(StatusSyncing, nil)

	err := c.doPush(ctx, grant.AccessToken)
	c.finish("push", err)

	return err
}

func (c *Coordinator) doPush(ctx context.Context, token string) error {
	fileID, err := c.binding.Ensure(ctx, token)
	if err != nil {
		return err
	}

	return c.write(ctx, token, fileID)
}

// write serializes the store as it is now and uploads it. The pending
// messages the upload carried stop being pending once it succeeds.
func (c *Coordinator) write(ctx context.Context, token, fileID string) error {
	data, sent, err := c.store.Checkpoint()
	if err != nil {
		return fmt.Errorf("serializing local store: %w", err)
	}

	if err := c.docs.WriteDocument(ctx, token, fileID, data); err != nil {
		return fmt.Errorf("writing remote document: %w", err)
	}

	if err := c.store.Acknowledge(sent); err != nil {
		// The next pull sees them in the remote and clears them.
		c.logger.Warn("failed to clear pending messages", slog.String("error", err.Error()))
	}

	return nil
}

// SchedulePush requests a push without waiting for it. Requests made
// while one is already pending collapse into it.
func (c *Coordinator) SchedulePush() {
	select {
	case c.pushCh <- struct{}{}:
	default:
	}
}

// Flush runs a scheduled push now if one is pending. One-shot callers
// use it in place of Run.
func (c *Coordinator) Flush(ctx context.Context) error {
	select {
	case <-c.pushCh:
		return c.Push(ctx)
	default:
		return nil
	}
}

// Run executes scheduled pushes one at a time until ctx is cancelled.
// Each push uploads the store as it is when the push starts, so a burst
// of requests ends with the latest snapshot remote. Failures are logged.
func (c *Coordinator) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-c.pushCh:
			err := c.Push(ctx)

			switch {
			case err == nil:
			case errors.Is(err, apperrors.ErrNotSignedIn), errors.Is(err, apperrors.ErrNoGrant):
				c.logger.Debug("queued push skipped", slog.String("reason", err.Error()))
			default:
				c.logger.Warn("queued push failed", slog.String("error", err.Error()))
			}
		}
	}
}
