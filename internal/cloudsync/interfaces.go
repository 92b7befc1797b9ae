// Package cloudsync keeps the local conversation store in step with a
// single JSON document held by the cloud document store. It owns grant
// acquisition, the document binding, and the pull/push state machine.
package cloudsync

import (
	"context"

	"github.com/alexjbarnes/pairchat/internal/models"
)

//go:generate mockgen -source=interfaces.go -destination=mock_interfaces_test.go -package=cloudsync

// DocumentStore is the remote document API. *drive.Client implements it.
type DocumentStore interface {
	FindDocument(ctx context.Context, token string) (string, bool, error)
	CreateDocument(ctx context.Context, token string, content []byte) (string, error)
	ReadDocument(ctx context.Context, token, fileID string) ([]byte, error)
	WriteDocument(ctx context.Context, token, fileID string, content []byte) error
}

// GrantSource issues access tokens. *google.Provider implements it.
type GrantSource interface {
	RequestGrant(ctx context.Context, scopes []string, loginHint string) (*models.GrantResponse, error)
}
