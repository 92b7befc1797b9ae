package app

import (
	"context"

	"github.com/alexjbarnes/pairchat/internal/models"
)

//go:generate mockgen -source=interfaces.go -destination=mock_interfaces_test.go -package=app

// IdentityProvider is everything the client needs from the identity
// provider. *google.Provider implements it.
type IdentityProvider interface {
	Start(ctx context.Context)
	Ready(ctx context.Context) error
	SignIn(ctx context.Context) (*models.Identity, error)
	RequestGrant(ctx context.Context, scopes []string, loginHint string) (*models.GrantResponse, error)
	Revoke(ctx context.Context, token string) error
	LookupProfile(ctx context.Context, token, email string) (models.PeerProfile, bool, error)
}
