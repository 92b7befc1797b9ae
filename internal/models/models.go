// Package models defines types shared across internal packages.
package models

import (
	"strings"
	"time"
)

// Identity is the signed-in account. ID is the verified email address.
type Identity struct {
	ID          string `json:"email"`
	DisplayName string `json:"name"`
	AvatarURL   string `json:"picture,omitempty"`
	Provider    string `json:"provider"`
}

// Valid reports whether the record carries a usable account id.
func (i *Identity) Valid() bool {
	return i != nil && strings.TrimSpace(i.ID) != ""
}

// CloudGrant is a time-limited bearer credential for the document store.
type CloudGrant struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
	Scopes      []string  `json:"scopes,omitempty"`
}

// ValidAt reports whether the grant is usable at now, treating it as
// expired margin before its literal expiry.
func (g CloudGrant) ValidAt(now time.Time, margin time.Duration) bool {
	if g.AccessToken == "" {
		return false
	}

	return now.Before(g.ExpiresAt.Add(-margin))
}

// GrantResponse is what the identity provider returns from a consent
// flow for the document store scope.
type GrantResponse struct {
	AccessToken string
	ExpiresIn   time.Duration
	Scopes      []string
}

// PeerProfile is cosmetic display data for a peer. It may be stale.
type PeerProfile struct {
	DisplayName string `json:"name,omitempty"`
	AvatarURL   string `json:"picture,omitempty"`
}
