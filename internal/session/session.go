// Package session holds the signed-in context: the current identity, the
// cloud grant, the selected peer, and the cached remote document id.
// A Session is created at startup and torn down on sign-out; nothing in
// it is global.
package session

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/alexjbarnes/pairchat/internal/chat"
	"github.com/alexjbarnes/pairchat/internal/models"
	"github.com/alexjbarnes/pairchat/internal/state"
)

// DefaultSafetyMargin is how long before its literal expiry a grant is
// treated as expired.
const DefaultSafetyMargin = time.Minute

// storedGrant is the durable form of a grant. Owner ties the grant to the
// identity it was issued for.
type storedGrant struct {
	Owner string            `json:"owner"`
	Grant models.CloudGrant `json:"grant"`
}

// docRef is the remote document id and the identity it belongs to.
type docRef struct {
	owner  string
	fileID string
}

// Session is the credential holder. All methods are safe for concurrent
// use.
type Session struct {
	storage state.Store
	logger  *slog.Logger
	margin  time.Duration
	now     func() time.Time

	mu       sync.RWMutex
	identity *models.Identity
	grant    models.CloudGrant
	peer     string
	doc      docRef

	observersMu sync.Mutex
	observers   []func(*models.Identity)
}

// New creates an empty session backed by storage. Call Restore to load
// the previous session's records. A negative margin means
// DefaultSafetyMargin; zero treats a grant as valid until its literal
// expiry.
func New(storage state.Store, margin time.Duration, logger *slog.Logger) *Session {
	if margin < 0 {
		margin = DefaultSafetyMargin
	}

	return &Session{
		storage: storage,
		logger:  logger,
		margin:  margin,
		now:     time.Now,
	}
}

// OnIdentityChange registers fn to be called whenever the current
// identity changes. fn receives nil on sign-out.
func (s *Session) OnIdentityChange(fn func(*models.Identity)) {
	s.observersMu.Lock()
	s.observers = append(s.observers, fn)
	s.observersMu.Unlock()
}

func (s *Session) notify(id *models.Identity) {
	s.observersMu.Lock()
	observers := make([]func(*models.Identity), len(s.observers))
	copy(observers, s.observers)
	s.observersMu.Unlock()

	for _, fn := range observers {
		fn(id)
	}
}

// Identity returns a copy of the current identity, or nil.
func (s *Session) Identity() *models.Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.identity == nil {
		return nil
	}

	cp := *s.identity

	return &cp
}

// Authenticated reports whether an identity is signed in.
func (s *Session) Authenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.identity != nil
}

// SignIn replaces the current identity wholesale and persists it. When
// the account differs from the previous one, the grant and the document
// id are dropped.
func (s *Session) SignIn(id models.Identity) error {
	if !id.Valid() {
		return fmt.Errorf("identity has no account id")
	}

	id.ID = chat.NormalizeID(id.ID)

	if err := state.SaveJSON(s.storage, state.KeyIdentity, id); err != nil {
		return fmt.Errorf("persisting identity: %w", err)
	}

	s.mu.Lock()
	if s.identity == nil || s.identity.ID != id.ID {
		s.grant = models.CloudGrant{}
		s.doc = docRef{}
	}

	// A durable grant left by an earlier process is checked against its
	// owner on restore, so only a live switch needs to remove it.
	if s.identity != nil && s.identity.ID != id.ID {
		if err := s.storage.Remove(state.KeyGrant); err != nil {
			s.logger.Warn("failed to remove stale grant", slog.String("error", err.Error()))
		}
	}

	s.identity = &id
	s.mu.Unlock()

	s.notify(&id)

	return nil
}

// Peer returns the selected peer, or "".
func (s *Session) Peer() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.peer
}

// SelectPeer sets and persists the active peer. An empty peer clears
// the selection.
func (s *Session) SelectPeer(peer string) error {
	peer = strings.TrimSpace(peer)

	var err error
	if peer == "" {
		err = s.storage.Remove(state.KeyPeer)
	} else {
		err = s.storage.Set(state.KeyPeer, peer)
	}

	if err != nil {
		return fmt.Errorf("persisting peer: %w", err)
	}

	s.mu.Lock()
	s.peer = peer
	s.mu.Unlock()

	return nil
}

// Grant returns the current grant and whether it is still valid.
func (s *Session) Grant() (models.CloudGrant, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.grant, s.grant.ValidAt(s.now(), s.margin)
}

// HasValidGrant reports whether a token is present and its expiry, minus
// the safety margin, is in the future.
func (s *Session) HasValidGrant() bool {
	_, ok := s.Grant()
	return ok
}

// StoreGrant records a freshly issued grant for owner and persists it.
// It fails when owner is no longer the signed-in identity, so a grant
// that lands after sign-out or an account switch is discarded.
func (s *Session) StoreGrant(owner string, resp models.GrantResponse) (models.CloudGrant, error) {
	grant := models.CloudGrant{
		AccessToken: resp.AccessToken,
		ExpiresAt:   s.now().Add(resp.ExpiresIn),
		Scopes:      resp.Scopes,
	}

	s.mu.Lock()
	if s.identity == nil || s.identity.ID != owner {
		s.mu.Unlock()
		return models.CloudGrant{}, fmt.Errorf("storing grant for %s: identity changed", owner)
	}

	s.grant = grant
	s.mu.Unlock()

	if err := state.SaveJSON(s.storage, state.KeyGrant, storedGrant{Owner: owner, Grant: grant}); err != nil {
		// The grant is still usable for this process.
		s.logger.Warn("failed to persist grant", slog.String("error", err.Error()))
	}

	return grant, nil
}

// InvalidateGrant forgets the current grant, forcing the next remote
// operation to acquire a new one.
func (s *Session) InvalidateGrant() {
	s.mu.Lock()
	s.grant = models.CloudGrant{}
	s.mu.Unlock()

	if err := s.storage.Remove(state.KeyGrant); err != nil {
		s.logger.Warn("failed to remove grant", slog.String("error", err.Error()))
	}
}

// DocumentID returns the cached remote document id for the current
// identity.
func (s *Session) DocumentID() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.identity == nil || s.doc.fileID == "" || s.doc.owner != s.identity.ID {
		return "", false
	}

	return s.doc.fileID, true
}

// SetDocumentID caches the remote document id for owner. It is ignored
// if owner is no longer the current identity.
func (s *Session) SetDocumentID(owner, fileID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.identity == nil || s.identity.ID != owner {
		return false
	}

	s.doc = docRef{owner: owner, fileID: fileID}

	return true
}

// Teardown signs out: identity, grant, and document id are cleared and
// their durable records removed. Messages and the selected peer stay.
func (s *Session) Teardown() error {
	s.mu.Lock()
	s.identity = nil
	s.grant = models.CloudGrant{}
	s.doc = docRef{}
	s.mu.Unlock()

	err := s.storage.Remove(state.KeyIdentity, state.KeyGrant)

	s.notify(nil)

	if err != nil {
		return fmt.Errorf("removing session records: %w", err)
	}

	return nil
}
