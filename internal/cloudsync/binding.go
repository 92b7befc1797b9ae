package cloudsync

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	apperrors "github.com/alexjbarnes/pairchat/internal/errors"
	"github.com/alexjbarnes/pairchat/internal/session"
)

// emptyDocument is the body of a freshly created document.
var emptyDocument = []byte("{}")

// Binding resolves the identifier of the signed-in identity's document,
// creating the document on first use.
type Binding struct {
	session *session.Session
	docs    DocumentStore
	logger  *slog.Logger

	// mu serializes Ensure so concurrent callers converge on one
	// document instead of each creating their own.
	mu sync.Mutex
}

// NewBinding creates a binding over docs.
func NewBinding(sess *session.Session, docs DocumentStore, logger *slog.Logger) *Binding {
	return &Binding{session: sess, docs: docs, logger: logger}
}

// Ensure returns the document id for the current identity. A cached id
// is reused; otherwise the store is searched by name and the document is
// created only when the search finds nothing.
func (b *Binding) Ensure(ctx context.Context, token string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.session.Identity()
	if id == nil {
		return "", apperrors.ErrNotSignedIn
	}

	if fileID, ok := b.session.DocumentID(); ok {
		return fileID, nil
	}

	fileID, found, err := b.docs.FindDocument(ctx, token)
	if err != nil {
		return "", fmt.Errorf("locating document: %w", err)
	}

	if !found {
		fileID, err = b.docs.CreateDocument(ctx, token, emptyDocument)
		if err != nil {
			return "", fmt.Errorf("creating document: %w", err)
		}

		b.logger.Info("created remote document", slog.String("identity", id.ID), slog.String("file_id", fileID))
	}

	if !b.session.SetDocumentID(id.ID, fileID) {
		b.logger.Debug("identity changed while binding document", slog.String("identity", id.ID))
	}

	return fileID, nil
}
