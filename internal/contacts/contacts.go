// Package contacts keeps display data for peers: a persisted profile
// cache, seeded from an optional YAML address book and topped up from
// the provider's contacts search.
package contacts

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/alexjbarnes/pairchat/internal/chat"
	"github.com/alexjbarnes/pairchat/internal/models"
	"github.com/alexjbarnes/pairchat/internal/state"
	"gopkg.in/yaml.v3"
)

// Entry is one address book line.
type Entry struct {
	Email   string `yaml:"email"`
	Name    string `yaml:"name"`
	Picture string `yaml:"picture"`
}

// Book is the on-disk address book format.
type Book struct {
	Contacts []Entry `yaml:"contacts"`
}

// LoadBook reads a YAML address book. A missing file is an empty book.
func LoadBook(path string) (map[string]models.PeerProfile, error) {
	out := make(map[string]models.PeerProfile)

	if path == "" {
		return out, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return out, nil
	}

	if err != nil {
		return nil, fmt.Errorf("reading address book: %w", err)
	}

	var book Book
	if err := yaml.Unmarshal(data, &book); err != nil {
		return nil, fmt.Errorf("parsing address book %s: %w", path, err)
	}

	for _, e := range book.Contacts {
		id := chat.NormalizeID(e.Email)
		if id == "" {
			continue
		}

		out[id] = models.PeerProfile{
			DisplayName: strings.TrimSpace(e.Name),
			AvatarURL:   strings.TrimSpace(e.Picture),
		}
	}

	return out, nil
}

// Cache is the persisted peer profile map, keyed by normalized peer id.
type Cache struct {
	storage state.Store
	logger  *slog.Logger

	mu       sync.RWMutex
	profiles map[string]models.PeerProfile
}

// NewCache loads the profile cache from storage. A missing or malformed
// record yields an empty cache.
func NewCache(storage state.Store, logger *slog.Logger) *Cache {
	c := &Cache{
		storage:  storage,
		logger:   logger,
		profiles: make(map[string]models.PeerProfile),
	}

	var loaded map[string]models.PeerProfile
	if state.LoadJSON(storage, state.KeyProfiles, &loaded) && loaded != nil {
		c.profiles = loaded
	}

	return c
}

// Get returns the cached profile for id.
func (c *Cache) Get(id string) (models.PeerProfile, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	p, ok := c.profiles[chat.NormalizeID(id)]

	return p, ok
}

// All returns a copy of every cached profile.
func (c *Cache) All() map[string]models.PeerProfile {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]models.PeerProfile, len(c.profiles))
	for k, v := range c.profiles {
		out[k] = v
	}

	return out
}

// Put stores p for id, keeping existing fields that p leaves empty.
func (c *Cache) Put(id string, p models.PeerProfile) error {
	return c.merge(map[string]models.PeerProfile{id: p})
}

// Seed merges address book entries into the cache.
func (c *Cache) Seed(book map[string]models.PeerProfile) error {
	if len(book) == 0 {
		return nil
	}

	return c.merge(book)
}

func (c *Cache) merge(in map[string]models.PeerProfile) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := make(map[string]models.PeerProfile, len(c.profiles)+len(in))
	for k, v := range c.profiles {
		next[k] = v
	}

	changed := false

	for rawID, p := range in {
		id := chat.NormalizeID(rawID)
		if id == "" {
			continue
		}

		cur := next[id]
		merged := cur

		if p.DisplayName != "" {
			merged.DisplayName = p.DisplayName
		}

		if p.AvatarURL != "" {
			merged.AvatarURL = p.AvatarURL
		}

		if merged != cur || !contains(next, id) {
			next[id] = merged
			changed = true
		}
	}

	if !changed {
		return nil
	}

	if err := state.SaveJSON(c.storage, state.KeyProfiles, next); err != nil {
		return fmt.Errorf("saving profiles: %w", err)
	}

	c.profiles = next

	return nil
}

func contains(m map[string]models.PeerProfile, id string) bool {
	_, ok := m[id]
	return ok
}

// Lookup searches the provider's contacts for a peer.
type Lookup interface {
	LookupProfile(ctx context.Context, token, email string) (models.PeerProfile, bool, error)
}

// Enricher fills the cache from the provider's contacts. It never
// prompts: token must return the current grant or fail.
type Enricher struct {
	cache  *Cache
	lookup Lookup
	token  func() (string, error)
	logger *slog.Logger
}

// NewEnricher creates an Enricher.
func NewEnricher(cache *Cache, lookup Lookup, token func() (string, error), logger *slog.Logger) *Enricher {
	return &Enricher{cache: cache, lookup: lookup, token: token, logger: logger}
}

// Enrich looks up peerID when the cache has no complete profile for it.
// Failures are logged and swallowed. It reports whether the cache
// changed.
func (e *Enricher) Enrich(ctx context.Context, peerID string) bool {
	peerID = chat.NormalizeID(peerID)
	if peerID == "" {
		return false
	}

	if p, ok := e.cache.Get(peerID); ok && p.DisplayName != "" && p.AvatarURL != "" {
		return false
	}

	token, err := e.token()
	if err != nil {
		e.logger.Debug("profile lookup skipped", slog.String("peer", peerID), slog.String("reason", err.Error()))
		return false
	}

	p, found, err := e.lookup.LookupProfile(ctx, token, peerID)
	if err != nil {
		e.logger.Warn("profile lookup failed", slog.String("peer", peerID), slog.String("error", err.Error()))
		return false
	}

	if !found {
		return false
	}

	before, _ := e.cache.Get(peerID)

	if err := e.cache.Put(peerID, p); err != nil {
		e.logger.Warn("caching profile failed", slog.String("peer", peerID), slog.String("error", err.Error()))
		return false
	}

	after, _ := e.cache.Get(peerID)

	return before != after
}
