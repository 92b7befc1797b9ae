package google

import (
	"context"
	"fmt"
	"sync"
	"time"

	apperrors "github.com/alexjbarnes/pairchat/internal/errors"
)

// Endpoints are the provider URLs advertised by the discovery document.
type Endpoints struct {
	AuthURL       string
	TokenURL      string
	RevocationURL string
	UserInfoURL   string
}

// Readiness resolves once, when one attempt to load the provider's
// discovery document has succeeded or failed. Waiters are bounded by a
// timeout and fail closed with ErrProviderUnavailable.
type Readiness struct {
	timeout time.Duration

	once sync.Once
	done chan struct{}
	ep   Endpoints
	err  error
}

// NewReadiness creates an unresolved readiness signal. Each Wait gives
// up after timeout.
func NewReadiness(timeout time.Duration) *Readiness {
	return &Readiness{
		timeout: timeout,
		done:    make(chan struct{}),
	}
}

// Resolve settles the signal. Only the first call has any effect.
func (r *Readiness) Resolve(ep Endpoints, err error) {
	r.once.Do(func() {
		r.ep, r.err = ep, err
		close(r.done)
	})
}

// Resolved reports whether Resolve has been called.
func (r *Readiness) Resolved() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// Failed reports whether the signal resolved with an error.
func (r *Readiness) Failed() bool {
	return r.Resolved() && r.err != nil
}

// Wait blocks until the signal resolves, ctx ends, or the timeout
// elapses.
func (r *Readiness) Wait(ctx context.Context) (Endpoints, error) {
	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case <-r.done:
		if r.err != nil {
			return Endpoints{}, fmt.Errorf("%w: %w", apperrors.ErrProviderUnavailable, r.err)
		}

		return r.ep, nil

	case <-timer.C:
		return Endpoints{}, fmt.Errorf("%w: not ready after %s", apperrors.ErrProviderUnavailable, r.timeout)

	case <-ctx.Done():
		return Endpoints{}, ctx.Err()
	}
}
