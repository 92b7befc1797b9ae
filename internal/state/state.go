// Package state is the durable local key/value store. Every value is a
// string; structured values are stored as JSON and read back leniently.
package state

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	// stateDirPerm is the permission mode for the state directory (~/.pairchat/).
	stateDirPerm = fs.FileMode(0o700)

	// stateFilePerm is the permission mode for the state database file.
	stateFilePerm = fs.FileMode(0o600)

	// stateOpenTimeout is the maximum time to wait for the bolt database lock.
	stateOpenTimeout = 5 * time.Second
)

// Well-known keys.
const (
	KeyMessages = "messages"
	KeyIdentity = "identity"
	KeyPeer     = "peer"
	KeyGrant    = "grant"
	KeyProfiles = "profiles"

	// KeyPending holds locally sent messages not yet written to the
	// remote document.
	KeyPending = "pending"
)

var appBucket = []byte("app")

// State wraps a bbolt database holding all persistent client state.
type State struct {
	db *bolt.DB
}

// Load opens the state database at the given path, creating it if it
// does not exist. An empty path means ~/.pairchat/state.db.
func Load(path string) (*State, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}

		path = p
	}

	if err := os.MkdirAll(filepath.Dir(path), stateDirPerm); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := bolt.Open(path, stateFilePerm, &bolt.Options{Timeout: stateOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening state db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(appBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing state db: %w", err)
	}

	return &State{db: db}, nil
}

// DefaultPath returns ~/.pairchat/state.db.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determining home directory: %w", err)
	}

	return filepath.Join(home, ".pairchat", "state.db"), nil
}

// Close closes the database.
func (s *State) Close() error {
	return s.db.Close()
}

// Get returns the value stored under key and whether it exists.
func (s *State) Get(key string) (string, bool) {
	var (
		value string
		found bool
	)

	_ = s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(appBucket).Get([]byte(key))
		if v != nil {
			value = string(v)
			found = true
		}

		return nil
	})

	return value, found
}

// Set stores value under key.
func (s *State) Set(key, value string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(appBucket).Put([]byte(key), []byte(value))
	})
}

// SetMany stores every value in a single transaction: either all of
// them are written or none is.
func (s *State) SetMany(values map[string]string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(appBucket)
		for k, v := range values {
			if err := b.Put([]byte(k), []byte(v)); err != nil {
				return err
			}
		}

		return nil
	})
}

// Remove deletes the given keys. Missing keys are not an error.
func (s *State) Remove(keys ...string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(appBucket)
		for _, k := range keys {
			if err := b.Delete([]byte(k)); err != nil {
				return err
			}
		}

		return nil
	})
}

// Store is the key to string boundary the rest of the client depends on.
// *State satisfies it.
type Store interface {
	Get(key string) (string, bool)
	Set(key, value string) error
	SetMany(values map[string]string) error
	Remove(keys ...string) error
}

// LoadJSON decodes the value under key into dst. It returns false when
// the key is missing or the value does not decode; dst is then left in
// an unspecified state and the caller should fall back to a default.
func LoadJSON(s Store, key string, dst any) bool {
	raw, ok := s.Get(key)
	if !ok || raw == "" {
		return false
	}

	return json.Unmarshal([]byte(raw), dst) == nil
}

// SaveJSON encodes v and stores it under key.
func SaveJSON(s Store, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}

	return s.Set(key, string(data))
}
