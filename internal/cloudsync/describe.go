package cloudsync

import (
	"context"
	"errors"

	"github.com/alexjbarnes/pairchat/internal/drive"
	apperrors "github.com/alexjbarnes/pairchat/internal/errors"
	"github.com/alexjbarnes/pairchat/internal/google"
)

// SyncError is returned by user-initiated operations. Message is meant
// for display; Err is the underlying cause.
type SyncError struct {
	Message string
	Err     error
}

func (e *SyncError) Error() string { return e.Message }
func (e *SyncError) Unwrap() error { return e.Err }

// Describe turns a sync failure into a sentence for the user. It tells
// authorization and scope problems apart from generic failures.
func Describe(err error) string {
	if err == nil {
		return ""
	}

	var se *SyncError
	if errors.As(err, &se) {
		return se.Message
	}

	var ce *google.ConsentError
	if errors.As(err, &ce) {
		if ce.Denied() {
			return "Access to cloud storage was denied. Run sync again to grant it."
		}

		return "Authorization did not complete (" + ce.Error() + "). Run sync again to retry."
	}

	switch {
	case errors.Is(err, apperrors.ErrNotSignedIn):
		return "Sign in before syncing."
	case errors.Is(err, apperrors.ErrNoGrant):
		return "Cloud sync is not authorized yet. Run sync to grant access."
	case errors.Is(err, apperrors.ErrUnauthorized):
		return "Cloud access is no longer authorized. Run sync again to sign in to cloud storage."
	case errors.Is(err, apperrors.ErrScopeMissing):
		return "Permission to store chat history in the app data folder was not granted. Run sync and allow access."
	case errors.Is(err, apperrors.ErrProviderUnavailable):
		return "The sign-in service is unavailable. Check your connection and try again."
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "Sync was interrupted before it finished."
	case drive.IsTransient(err):
		return "Cloud storage is temporarily unavailable: " + err.Error()
	}

	return "Sync failed: " + err.Error()
}
