package cloudsync

import (
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alexjbarnes/pairchat/internal/chat"
	"github.com/alexjbarnes/pairchat/internal/drive"
	"github.com/alexjbarnes/pairchat/internal/models"
	"github.com/alexjbarnes/pairchat/internal/session"
	"github.com/alexjbarnes/pairchat/internal/state"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

var quietLogger = slog.New(slog.DiscardHandler)

var (
	alice = models.Identity{ID: "alice@example.com", DisplayName: "Alice", Provider: "google"}
	bob   = models.Identity{ID: "bob@example.com", DisplayName: "Bob", Provider: "google"}
)

var driveScopes = []string{drive.Scope}

// fixture is a coordinator over a real session and store, with the
// remote document store and the grant source mocked.
type fixture struct {
	docs   *MockDocumentStore
	grants *MockGrantSource
	state  *state.State
	sess   *session.Session
	store  *chat.Store
	acq    *Acquirer
	coord  *Coordinator

	mu       sync.Mutex
	statuses []Status
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	ctrl := gomock.NewController(t)

	st, err := state.Load(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	f := &fixture{
		docs:   NewMockDocumentStore(ctrl),
		grants: NewMockGrantSource(ctrl),
		state:  st,
	}

	f.sess = session.New(st, time.Minute, quietLogger)
	f.store = chat.NewStore(st, quietLogger)
	f.acq = NewAcquirer(f.sess, f.grants, driveScopes, driveScopes, quietLogger)
	f.coord = NewCoordinator(Config{
		Session:   f.sess,
		Store:     f.store,
		Documents: f.docs,
		Acquirer:  f.acq,
	}, quietLogger)

	f.coord.OnStatus(func(s Status, _ error) {
		f.mu.Lock()
		f.statuses = append(f.statuses, s)
		f.mu.Unlock()
	})

	return f
}

func (f *fixture) signIn(t *testing.T, id models.Identity) {
	t.Helper()
	require.NoError(t, f.sess.SignIn(id))
}

// withGrant signs in as alice and stores a valid grant.
func (f *fixture) withGrant(t *testing.T) {
	t.Helper()
	f.signIn(t, alice)

	_, err := f.sess.StoreGrant(alice.ID, models.GrantResponse{AccessToken: "tok", ExpiresIn: time.Hour, Scopes: driveScopes})
	require.NoError(t, err)
}

func (f *fixture) seen() []Status {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]Status, len(f.statuses))
	copy(out, f.statuses)

	return out
}

func grantResponse(token string) *models.GrantResponse {
	return &models.GrantResponse{AccessToken: token, ExpiresIn: time.Hour, Scopes: driveScopes}
}
