package errors

import "errors"

// Session errors.
var (
	ErrNotSignedIn = errors.New("not signed in")
	ErrNoPeer      = errors.New("no peer selected")
)

// Provider errors.
var (
	ErrProviderUnavailable = errors.New("identity provider not ready")
	ErrNoIdentity          = errors.New("identity token has no email")
)

// Remote store errors.
var (
	ErrNoGrant      = errors.New("no valid cloud grant")
	ErrUnauthorized = errors.New("cloud access not authorized")
	ErrScopeMissing = errors.New("cloud access scope missing")
	ErrAPIRequest   = errors.New("API request failed")
	ErrAPIResponse  = errors.New("unexpected API response")
)
