package chat

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/alexjbarnes/pairchat/internal/models"
	"github.com/alexjbarnes/pairchat/internal/state"
	"github.com/google/uuid"
)

// Store is the keyed conversation map. Threads are append-only and kept
// in insertion order, which is also chronological order. Every mutation
// is written to durable storage before it becomes visible in memory.
//
// Messages appended locally stay pending until a write of the remote
// document that contains them succeeds. Pending messages survive a pull
// that replaces the store and are layered back on top of it.
type Store struct {
	storage state.Store
	logger  *slog.Logger
	now     func() time.Time
	newID   func() string

	mu      sync.RWMutex
	conv    models.Conversations
	pending []models.Message

	observersMu sync.Mutex
	observers   []func(key string)
}

// NewStore loads the conversation map from storage. A missing or
// malformed record yields an empty store.
func NewStore(storage state.Store, logger *slog.Logger) *Store {
	s := &Store{
		storage: storage,
		logger:  logger,
		now:     time.Now,
		newID:   uuid.NewString,
		conv:    make(models.Conversations),
	}

	var loaded models.Conversations
	if state.LoadJSON(storage, state.KeyMessages, &loaded) && loaded != nil {
		s.conv = loaded
	} else if _, exists := storage.Get(state.KeyMessages); exists {
		logger.Warn("stored messages unreadable, starting empty")
	}

	var pending []models.Message
	if state.LoadJSON(storage, state.KeyPending, &pending) {
		s.pending = pending
	} else if _, exists := storage.Get(state.KeyPending); exists {
		logger.Warn("pending messages unreadable, dropping them")
	}

	return s
}

// OnChange registers fn to be called after every committed mutation.
// key is the changed conversation, or "" when the whole store was
// replaced.
func (s *Store) OnChange(fn func(key string)) {
	s.observersMu.Lock()
	s.observers = append(s.observers, fn)
	s.observersMu.Unlock()
}

func (s *Store) notify(key string) {
	s.observersMu.Lock()
	observers := make([]func(string), len(s.observers))
	copy(observers, s.observers)
	s.observersMu.Unlock()

	for _, fn := range observers {
		fn(key)
	}
}

// Append adds a message from self to peerID. It is a no-op returning
// (nil, nil) when there is no signed-in identity, no peer, or no text.
// The store is persisted before the message is visible; if persisting
// fails the store is unchanged and the error is returned.
func (s *Store) Append(self *models.Identity, peerID, text string) (*models.Message, error) {
	text = strings.TrimSpace(text)
	if !self.Valid() || strings.TrimSpace(peerID) == "" || text == "" {
		return nil, nil
	}

	from := NormalizeID(self.ID)
	to := NormalizeID(peerID)
	key := Key(from, to)

	s.mu.Lock()

	thread := s.conv[key]
	ts := s.now().UnixMilli()
	// Keep the thread chronological even if the wall clock steps back.
	if n := len(thread); n > 0 && thread[n-1].Timestamp > ts {
		ts = thread[n-1].Timestamp
	}

	msg := models.Message{
		ID:            s.newID(),
		From:          from,
		To:            to,
		Text:          text,
		Timestamp:     ts,
		SenderName:    self.DisplayName,
		SenderPicture: self.AvatarURL,
	}

	grown := make([]models.Message, len(thread), len(thread)+1)
	copy(grown, thread)
	grown = append(grown, msg)

	next := make(models.Conversations, len(s.conv)+1)
	for k, v := range s.conv {
		next[k] = v
	}

	next[key] = grown

	pending := make([]models.Message, len(s.pending), len(s.pending)+1)
	copy(pending, s.pending)
	pending = append(pending, msg)

	if err := s.persist(next, pending); err != nil {
		s.mu.Unlock()
		return nil, err
	}

	s.conv = next
	s.pending = pending
	s.mu.Unlock()

	s.notify(key)

	return &msg, nil
}

// ReplaceAll swaps the whole store for conv, persists it, and notifies
// observers. There is no per-key merge. Keys are canonicalized and
// messages whose participants do not match their key are dropped.
// Pending messages are left pending.
func (s *Store) ReplaceAll(conv models.Conversations) error {
	_, err := s.Rebase(conv, "")
	return err
}

// Rebase is ReplaceAll followed by appending, on top of remote, every
// pending message sent by selfID that remote does not already contain. Pending
// messages found in remote are no longer pending. Pending messages from
// other senders stay pending without being layered. It returns how many
// messages were layered, which is what the remote still lacks.
func (s *Store) Rebase(remote models.Conversations, selfID string) (int, error) {
	clean := s.canonical(remote)
	self := NormalizeID(selfID)

	s.mu.Lock()

	var (
		pending []models.Message
		layered int
	)

	for _, m := range s.pending {
		if self == "" || NormalizeID(m.From) != self {
			pending = append(pending, m)
			continue
		}

		key := Key(m.From, m.To)
		thread := clean[key]

		if containsID(thread, m.ID) {
			continue
		}

		// Keep the thread chronological on top of the remote history.
		if n := len(thread); n > 0 && thread[n-1].Timestamp > m.Timestamp {
			m.Timestamp = thread[n-1].Timestamp
		}

		clean[key] = append(thread, m)
		pending = append(pending, m)
		layered++
	}

	if err := s.persist(clean, pending); err != nil {
		s.mu.Unlock()
		return 0, err
	}

	s.conv = clean
	s.pending = pending
	s.mu.Unlock()

	s.notify("")

	return layered, nil
}

// Checkpoint serializes the store for upload. It also returns the ids
// of the pending messages the serialized form contains, to be passed to
// Acknowledge once the upload succeeded.
func (s *Store) Checkpoint() ([]byte, []string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := json.Marshal(s.conv)
	if err != nil {
		return nil, nil, err
	}

	var ids []string

	for _, m := range s.pending {
		if containsID(s.conv[Key(m.From, m.To)], m.ID) {
			ids = append(ids, m.ID)
		}
	}

	return data, ids, nil
}

// Acknowledge marks the messages with the given ids as written to the
// remote document.
func (s *Store) Acknowledge(ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	done := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		done[id] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var left []models.Message

	for _, m := range s.pending {
		if _, ok := done[m.ID]; !ok {
			left = append(left, m)
		}
	}

	if len(left) == len(s.pending) {
		return nil
	}

	if err := state.SaveJSON(s.storage, state.KeyPending, left); err != nil {
		return fmt.Errorf("persisting pending messages: %w", err)
	}

	s.pending = left

	return nil
}

// Pending returns the number of messages not yet written to the remote
// document.
func (s *Store) Pending() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.pending)
}

// canonical rebuilds conv under canonical keys, dropping messages whose
// participants do not match their key.
func (s *Store) canonical(conv models.Conversations) models.Conversations {
	clean := make(models.Conversations, len(conv))
	dropped := 0

	for rawKey, msgs := range conv {
		a, b, ok := Participants(rawKey)
		if !ok {
			dropped += len(msgs)
			continue
		}

		key := Key(a, b)
		kept := clean[key]

		for _, m := range msgs {
			if Key(m.From, m.To) != key {
				dropped++
				continue
			}

			kept = append(kept, m)
		}

		clean[key] = kept
	}

	if dropped > 0 {
		s.logger.Warn("dropped messages not belonging to their conversation",
			slog.Int("count", dropped),
		)
	}

	return clean
}

func containsID(thread []models.Message, id string) bool {
	if id == "" {
		return false
	}

	for i := len(thread) - 1; i >= 0; i-- {
		if thread[i].ID == id {
			return true
		}
	}

	return false
}

// Thread returns a copy of the conversation between selfID and peerID,
// or an empty slice.
func (s *Store) Thread(selfID, peerID string) []models.Message {
	key := Key(selfID, peerID)

	s.mu.RLock()
	defer s.mu.RUnlock()

	thread := s.conv[key]
	out := make([]models.Message, len(thread))
	copy(out, thread)

	return out
}

// Len returns the number of conversations.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.conv)
}

// persist writes conv and pending to storage in one transaction. Caller
// holds s.mu.
func (s *Store) persist(conv models.Conversations, pending []models.Message) error {
	msgs, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("encoding messages: %w", err)
	}

	queued, err := json.Marshal(pending)
	if err != nil {
		return fmt.Errorf("encoding pending messages: %w", err)
	}

	err = s.storage.SetMany(map[string]string{
		state.KeyMessages: string(msgs),
		state.KeyPending:  string(queued),
	})
	if err != nil {
		return fmt.Errorf("persisting messages: %w", err)
	}

	return nil
}
