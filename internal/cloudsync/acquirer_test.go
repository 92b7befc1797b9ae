package cloudsync

import (
	"context"
	"errors"
	"testing"
	"time"

	apperrors "github.com/alexjbarnes/pairchat/internal/errors"
	"github.com/alexjbarnes/pairchat/internal/google"
	"github.com/alexjbarnes/pairchat/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type acquireResult struct {
	grant models.CloudGrant
	err   error
}

// acquireAsync starts Acquire on its own goroutine.
func acquireAsync(ctx context.Context, a *Acquirer) <-chan acquireResult {
	ch := make(chan acquireResult, 1)

	go func() {
		g, err := a.Acquire(ctx)
		ch <- acquireResult{grant: g, err: err}
	}()

	return ch
}

func TestAcquire_ConcurrentCallersShareOneRequest(t *testing.T) {
	f := newFixture(t)
	f.signIn(t, alice)

	release := make(chan struct{})

	f.grants.EXPECT().
		RequestGrant(gomock.Any(), driveScopes, "alice@example.com").
		DoAndReturn(func(context.Context, []string, string) (*models.GrantResponse, error) {
			<-release
			return grantResponse("shared"), nil
		}).
		Times(1)

	first := acquireAsync(context.Background(), f.acq)
	second := acquireAsync(context.Background(), f.acq)

	require.Eventually(t, func() bool { return f.acq.Waiters() == 2 }, 2*time.Second, 5*time.Millisecond)
	close(release)

	r1, r2 := <-first, <-second
	require.NoError(t, r1.err)
	require.NoError(t, r2.err)
	assert.Equal(t, "shared", r1.grant.AccessToken)
	assert.Equal(t, r1.grant, r2.grant)
	assert.True(t, f.sess.HasValidGrant())
	assert.Equal(t, 0, f.acq.Waiters())
}

func TestAcquire_ConcurrentCallersShareFailure(t *testing.T) {
	f := newFixture(t)
	f.signIn(t, alice)

	release := make(chan struct{})
	denial := &google.ConsentError{Code: "access_denied", Description: "user said no"}

	f.grants.EXPECT().
		RequestGrant(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(context.Context, []string, string) (*models.GrantResponse, error) {
			<-release
			return nil, denial
		}).
		Times(1)

	first := acquireAsync(context.Background(), f.acq)
	second := acquireAsync(context.Background(), f.acq)

	require.Eventually(t, func() bool { return f.acq.Waiters() == 2 }, 2*time.Second, 5*time.Millisecond)
	close(release)

	r1, r2 := <-first, <-second
	require.Error(t, r1.err)
	assert.Same(t, r1.err, r2.err)

	var ce *google.ConsentError
	require.True(t, errors.As(r1.err, &ce))
	assert.Equal(t, "access_denied", ce.Code)
	assert.False(t, f.sess.HasValidGrant())
}

func TestAcquire_AbandonedWaiterDoesNotCancelFlight(t *testing.T) {
	f := newFixture(t)
	f.signIn(t, alice)

	release := make(chan struct{})

	f.grants.EXPECT().
		RequestGrant(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, _ []string, _ string) (*models.GrantResponse, error) {
			<-release
			assert.NoError(t, ctx.Err())
			return grantResponse("late"), nil
		}).
		Times(1)

	ctx, cancel := context.WithCancel(context.Background())
	impatient := acquireAsync(ctx, f.acq)
	patient := acquireAsync(context.Background(), f.acq)

	require.Eventually(t, func() bool { return f.acq.Waiters() == 2 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	r1 := <-impatient
	assert.ErrorIs(t, r1.err, context.Canceled)

	close(release)

	r2 := <-patient
	require.NoError(t, r2.err)
	assert.Equal(t, "late", r2.grant.AccessToken)
}

func TestAcquire_FailureIsNotRetried(t *testing.T) {
	f := newFixture(t)
	f.signIn(t, alice)

	gomock.InOrder(
		f.grants.EXPECT().RequestGrant(gomock.Any(), gomock.Any(), gomock.Any()).
			Return(nil, &google.ConsentError{Code: "access_denied"}),
		f.grants.EXPECT().RequestGrant(gomock.Any(), gomock.Any(), gomock.Any()).
			Return(grantResponse("second"), nil),
	)

	_, err := f.acq.Acquire(context.Background())
	require.Error(t, err)
	assert.False(t, f.sess.HasValidGrant())

	// A new explicit request starts a new flight.
	g, err := f.acq.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "second", g.AccessToken)
}

func TestAcquire_NotSignedIn(t *testing.T) {
	f := newFixture(t)

	_, err := f.acq.Acquire(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrNotSignedIn)
}

func TestAcquire_ScopeNotGranted(t *testing.T) {
	f := newFixture(t)
	f.signIn(t, alice)

	f.grants.EXPECT().RequestGrant(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(&models.GrantResponse{AccessToken: "tok", ExpiresIn: time.Hour, Scopes: []string{"openid"}}, nil)

	_, err := f.acq.Acquire(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrScopeMissing)
	assert.False(t, f.sess.HasValidGrant())
}

func TestAcquire_EmptyToken(t *testing.T) {
	f := newFixture(t)
	f.signIn(t, alice)

	f.grants.EXPECT().RequestGrant(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(&models.GrantResponse{}, nil)

	_, err := f.acq.Acquire(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrAPIResponse)
}

func TestAcquire_IdentitySwitchedDuringFlight(t *testing.T) {
	f := newFixture(t)
	f.signIn(t, alice)

	release := make(chan struct{})

	f.grants.EXPECT().RequestGrant(gomock.Any(), gomock.Any(), "alice@example.com").
		DoAndReturn(func(context.Context, []string, string) (*models.GrantResponse, error) {
			<-release
			return grantResponse("alice-token"), nil
		})

	res := acquireAsync(context.Background(), f.acq)
	require.Eventually(t, func() bool { return f.acq.Waiters() == 1 }, 2*time.Second, 5*time.Millisecond)

	f.signIn(t, bob)
	close(release)

	r := <-res
	require.Error(t, r.err)
	assert.False(t, f.sess.HasValidGrant(), "alice's grant must not attach to bob")
}

func TestToken_UsesValidGrant(t *testing.T) {
	f := newFixture(t)
	f.withGrant(t)

	tok, err := f.acq.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok", tok)
}

func TestToken_AcquiresWhenExpired(t *testing.T) {
	f := newFixture(t)
	f.signIn(t, alice)

	f.grants.EXPECT().RequestGrant(gomock.Any(), gomock.Any(), gomock.Any()).Return(grantResponse("fresh"), nil)

	tok, err := f.acq.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh", tok)
}
