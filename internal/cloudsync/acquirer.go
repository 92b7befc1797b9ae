package cloudsync

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	apperrors "github.com/alexjbarnes/pairchat/internal/errors"
	"github.com/alexjbarnes/pairchat/internal/models"
	"github.com/alexjbarnes/pairchat/internal/session"
)

// flight is one outstanding grant request. Every caller that joins it
// receives the same grant or the same error.
type flight struct {
	done    chan struct{}
	grant   models.CloudGrant
	err     error
	waiters int
}

// Acquirer obtains document store grants with at most one provider
// request outstanding at a time.
type Acquirer struct {
	session  *session.Session
	source   GrantSource
	scopes   []string
	required []string
	logger   *slog.Logger

	mu      sync.Mutex
	pending *flight
}

// NewAcquirer creates an acquirer requesting scopes. A grant missing any
// of the required scopes is rejected with ErrScopeMissing.
func NewAcquirer(sess *session.Session, source GrantSource, scopes, required []string, logger *slog.Logger) *Acquirer {
	return &Acquirer{
		session:  sess,
		source:   source,
		scopes:   scopes,
		required: required,
		logger:   logger,
	}
}

// Token returns the current grant's token when it is still valid, and
// otherwise acquires a new grant. This is the only path that may prompt
// the user.
func (a *Acquirer) Token(ctx context.Context) (string, error) {
	if g, ok := a.session.Grant(); ok {
		return g.AccessToken, nil
	}

	g, err := a.Acquire(ctx)
	if err != nil {
		return "", err
	}

	return g.AccessToken, nil
}

// Acquire requests a new grant for the signed-in identity. If a request
// is already outstanding the caller joins it. A caller whose ctx ends
// stops waiting; the request itself carries on for the others. Failures
// are not retried.
func (a *Acquirer) Acquire(ctx context.Context) (models.CloudGrant, error) {
	id := a.session.Identity()
	if id == nil {
		return models.CloudGrant{}, apperrors.ErrNotSignedIn
	}

	a.mu.Lock()

	f := a.pending
	if f == nil {
		f = &flight{done: make(chan struct{})}
		a.pending = f

		go a.fly(context.WithoutCancel(ctx), f, id.ID)
	}

	f.waiters++
	a.mu.Unlock()

	select {
	case <-f.done:
		return f.grant, f.err
	case <-ctx.Done():
		return models.CloudGrant{}, ctx.Err()
	}
}

// Waiters reports how many callers have joined the outstanding request,
// or zero when none is outstanding.
func (a *Acquirer) Waiters() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.pending == nil {
		return 0
	}

	return a.pending.waiters
}

func (a *Acquirer) fly(ctx context.Context, f *flight, owner string) {
	a.logger.Debug("requesting grant", slog.String("identity", owner))

	grant, err := a.request(ctx, owner)
	if err != nil {
		a.logger.Warn("grant request failed", slog.String("identity", owner), slog.String("error", err.Error()))
	}

	a.mu.Lock()
	a.pending = nil
	f.grant, f.err = grant, err
	close(f.done)
	a.mu.Unlock()
}

func (a *Acquirer) request(ctx context.Context, owner string) (models.CloudGrant, error) {
	resp, err := a.source.RequestGrant(ctx, a.scopes, owner)
	if err != nil {
		return models.CloudGrant{}, err
	}

	if resp == nil || resp.AccessToken == "" {
		return models.CloudGrant{}, fmt.Errorf("%w: grant response has no token", apperrors.ErrAPIResponse)
	}

	for _, s := range a.required {
		if len(resp.Scopes) > 0 && !slices.Contains(resp.Scopes, s) {
			return models.CloudGrant{}, fmt.Errorf("%w: %s not granted", apperrors.ErrScopeMissing, s)
		}
	}

	return a.session.StoreGrant(owner, *resp)
}
