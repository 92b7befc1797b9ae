package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"

	"github.com/alexjbarnes/pairchat/internal/chat"
	"github.com/alexjbarnes/pairchat/internal/models"
	"github.com/alexjbarnes/pairchat/internal/state"
)

// maxSharedIdentityBytes caps reads of the shared identity file.
const maxSharedIdentityBytes = 64 * 1024

// Identity sources reported by Restore.
const (
	SourceNone   = ""
	SourceShared = "shared"
	SourceLocal  = "local"
)

// Restored describes what Restore found.
type Restored struct {
	Identity   *models.Identity
	Source     string
	Peer       string
	GrantValid bool
}

// Restore loads the previous session. The identity comes from the shared
// identity file when it holds a valid record, else from the local record.
// A stored grant is kept only if it belongs to the restored identity and
// has not expired. Malformed records are treated as absent.
func (s *Session) Restore(sharedPath string) Restored {
	var r Restored

	var local models.Identity
	hasLocal := state.LoadJSON(s.storage, state.KeyIdentity, &local) && local.Valid()

	id, err := ReadSharedIdentity(sharedPath)
	switch {
	case err == nil:
		r.Identity, r.Source = id, SourceShared
	case !errors.Is(err, fs.ErrNotExist):
		s.logger.Warn("ignoring shared identity", slog.String("error", err.Error()))
	}

	if r.Identity == nil && hasLocal {
		r.Identity, r.Source = &local, SourceLocal
	}

	if peer, ok := s.storage.Get(state.KeyPeer); ok {
		s.mu.Lock()
		s.peer = peer
		s.mu.Unlock()

		r.Peer = peer
	}

	if r.Identity == nil {
		return r
	}

	if err := s.SignIn(*r.Identity); err != nil {
		s.logger.Warn("failed to restore identity", slog.String("error", err.Error()))
		return Restored{Peer: r.Peer}
	}

	r.Identity = s.Identity()

	var stored storedGrant
	if state.LoadJSON(s.storage, state.KeyGrant, &stored) &&
		stored.Owner == r.Identity.ID &&
		stored.Grant.ValidAt(s.now(), s.margin) {
		s.mu.Lock()
		s.grant = stored.Grant
		s.mu.Unlock()

		r.GrantValid = true
	} else if err := s.storage.Remove(state.KeyGrant); err != nil {
		s.logger.Warn("failed to remove expired grant", slog.String("error", err.Error()))
	}

	return r
}

// ReadSharedIdentity reads an identity record written by a sibling
// application. It returns an error wrapping fs.ErrNotExist when path is
// empty or the file is absent.
func ReadSharedIdentity(path string) (*models.Identity, error) {
	if path == "" {
		return nil, fmt.Errorf("shared identity: %w", fs.ErrNotExist)
	}

	f, err := os.Open(path) //nolint:gosec // G304: path comes from config
	if err != nil {
		return nil, fmt.Errorf("opening shared identity: %w", err)
	}
	defer f.Close()

	var id models.Identity
	if err := json.NewDecoder(io.LimitReader(f, maxSharedIdentityBytes)).Decode(&id); err != nil {
		return nil, fmt.Errorf("decoding shared identity: %w", err)
	}

	if !id.Valid() {
		return nil, fmt.Errorf("shared identity has no email")
	}

	id.ID = chat.NormalizeID(id.ID)

	return &id, nil
}
