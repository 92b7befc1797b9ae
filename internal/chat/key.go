// Package chat holds the local conversation store: the map from a
// canonical two-party key to that pair's ordered messages.
package chat

import (
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// KeySeparator joins the two participants of a conversation key.
const KeySeparator = "::"

// NormalizeID canonicalizes a participant identifier: NFC, trimmed,
// lower-cased.
func NormalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(norm.NFC.String(id)))
}

// Key returns the order-independent conversation key for two
// participants. Key(a, b) == Key(b, a) for all inputs.
func Key(a, b string) string {
	ids := []string{NormalizeID(a), NormalizeID(b)}
	sort.Strings(ids)

	return ids[0] + KeySeparator + ids[1]
}

// Participants splits a key into its two participants. ok is false for
// strings that are not keys.
func Participants(key string) (a, b string, ok bool) {
	a, b, ok = strings.Cut(key, KeySeparator)
	if !ok || strings.Contains(b, KeySeparator) {
		return "", "", false
	}

	return a, b, true
}

// PeerOf returns the other participant of key for self, or false when
// self is not a participant.
func PeerOf(key, self string) (string, bool) {
	a, b, ok := Participants(key)
	if !ok {
		return "", false
	}

	self = NormalizeID(self)

	switch self {
	case a:
		return b, true
	case b:
		return a, true
	}

	return "", false
}
