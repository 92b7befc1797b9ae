package chat

import (
	"sort"
	"strings"

	"github.com/alexjbarnes/pairchat/internal/models"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Summary is one row of the recent-conversations list.
type Summary struct {
	Key         string         `json:"key"`
	PeerID      string         `json:"peer"`
	DisplayName string         `json:"name"`
	AvatarURL   string         `json:"picture,omitempty"`
	Last        models.Message `json:"last"`
	Count       int            `json:"count"`
}

// Recent lists every non-empty conversation that involves selfID, most
// recent message first. Display data for each peer comes from the newest
// snapshot the peer sent in the thread, then profiles, then a name
// derived from the peer's address.
func (s *Store) Recent(selfID string, profiles map[string]models.PeerProfile) []Summary {
	if strings.TrimSpace(selfID) == "" {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Summary

	for key, thread := range s.conv {
		if len(thread) == 0 {
			continue
		}

		peer, ok := PeerOf(key, selfID)
		if !ok {
			continue
		}

		name, avatar := snapshotFor(thread, peer)

		if p, ok := profiles[peer]; ok {
			if name == "" {
				name = p.DisplayName
			}

			if avatar == "" {
				avatar = p.AvatarURL
			}
		}

		if name == "" {
			name = HumanizeID(peer)
		}

		out = append(out, Summary{
			Key:         key,
			PeerID:      peer,
			DisplayName: name,
			AvatarURL:   avatar,
			Last:        thread[len(thread)-1],
			Count:       len(thread),
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Last.Timestamp != out[j].Last.Timestamp {
			return out[i].Last.Timestamp > out[j].Last.Timestamp
		}

		return out[i].Key < out[j].Key
	})

	return out
}

// snapshotFor returns the newest name and avatar peer attached to a
// message it sent in thread.
func snapshotFor(thread []models.Message, peer string) (name, avatar string) {
	for i := len(thread) - 1; i >= 0; i-- {
		m := thread[i]
		if NormalizeID(m.From) != peer {
			continue
		}

		if name == "" {
			name = m.SenderName
		}

		if avatar == "" {
			avatar = m.SenderPicture
		}

		if name != "" && avatar != "" {
			break
		}
	}

	return name, avatar
}

// HumanizeID derives a display name from the local part of an address:
// "bob.smith@example.com" becomes "Bob Smith".
func HumanizeID(id string) string {
	local, _, _ := strings.Cut(strings.TrimSpace(id), "@")

	words := strings.FieldsFunc(local, func(r rune) bool {
		return r == '.' || r == '_' || r == '-' || r == '+'
	})
	if len(words) == 0 {
		return id
	}

	// Casers carry state, so each call gets its own.
	return cases.Title(language.English).String(strings.Join(words, " "))
}
