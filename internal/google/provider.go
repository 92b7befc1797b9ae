// Package google is the identity provider boundary: OpenID Connect sign-in,
// consent for cloud document access, token revocation, and contact
// lookups. Consent runs in the system browser against a loopback redirect.
package google

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/pkg/browser"
	"github.com/tidwall/gjson"
)

const (
	// DiscoveryURL is Google's OpenID Connect discovery document.
	DiscoveryURL = "https://accounts.google.com/.well-known/openid-configuration"

	// ProviderName is recorded on identities issued by this package.
	ProviderName = "google"

	// ContactsScope allows searching the user's contacts.
	ContactsScope = "https://www.googleapis.com/auth/contacts.readonly"

	// httpClientTimeout is used when no custom client is provided.
	httpClientTimeout = 30 * time.Second

	// maxDiscoveryBytes caps the discovery document read.
	maxDiscoveryBytes = 256 * 1024

	// DefaultConsentTimeout bounds how long the loopback listener waits
	// for the browser to come back.
	DefaultConsentTimeout = 5 * time.Minute
)

// signInScopes are requested when signing in.
var signInScopes = []string{"openid", "email", "profile"}

// Config holds the OAuth client registration and tunables.
type Config struct {
	ClientID     string
	ClientSecret string

	// DiscoveryURL overrides the discovery document location.
	DiscoveryURL string

	// PeopleURL overrides the People API base URL. Empty means the
	// library default.
	PeopleURL string

	ReadyTimeout   time.Duration
	ConsentTimeout time.Duration
}

// Provider drives the Google identity flows.
type Provider struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger

	// readyMu guards ready, the current discovery attempt. A failed
	// attempt is replaced by the next caller.
	readyMu sync.Mutex
	ready   *Readiness

	// openURL shows the consent page to the user.
	openURL func(string) error
}

// NewProvider creates a provider. Call Start to begin loading the
// discovery document; every flow waits for it.
func NewProvider(cfg Config, httpClient *http.Client, logger *slog.Logger) *Provider {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: httpClientTimeout}
	}

	if cfg.DiscoveryURL == "" {
		cfg.DiscoveryURL = DiscoveryURL
	}

	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = 20 * time.Second
	}

	if cfg.ConsentTimeout <= 0 {
		cfg.ConsentTimeout = DefaultConsentTimeout
	}

	// pkg/browser echoes the launcher's output to stdout by default,
	// which would interleave with CLI output.
	browser.Stdout = io.Discard

	return &Provider{
		cfg:        cfg,
		httpClient: httpClient,
		logger:     logger,
		openURL:    browser.OpenURL,
	}
}

// Start fetches the discovery document in the background. Calling it
// again is harmless while an attempt is running or after one succeeded;
// after a failure it starts a fresh attempt.
func (p *Provider) Start(ctx context.Context) {
	p.attempt(ctx)
}

// Ready waits until the provider can be used.
func (p *Provider) Ready(ctx context.Context) error {
	_, err := p.endpoints(ctx)
	return err
}

// endpoints waits for the discovery document, retrying discovery if the
// last attempt failed.
func (p *Provider) endpoints(ctx context.Context) (Endpoints, error) {
	return p.attempt(ctx).Wait(ctx)
}

// attempt returns the current discovery attempt, starting a new one when
// there is none or the last one failed. Only a success is kept.
func (p *Provider) attempt(ctx context.Context) *Readiness {
	p.readyMu.Lock()
	defer p.readyMu.Unlock()

	if p.ready != nil && !p.ready.Failed() {
		return p.ready
	}

	r := NewReadiness(p.cfg.ReadyTimeout)
	p.ready = r

	// A waiter giving up must not fail the attempt for everyone else.
	dctx := context.WithoutCancel(ctx)

	go func() {
		ep, err := p.discover(dctx)
		if err != nil {
			p.logger.Warn("identity provider discovery failed", slog.String("error", err.Error()))
		}

		r.Resolve(ep, err)
	}()

	return r
}

func (p *Provider) discover(ctx context.Context) (Endpoints, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.DiscoveryURL, nil)
	if err != nil {
		return Endpoints{}, fmt.Errorf("creating discovery request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return Endpoints{}, fmt.Errorf("fetching discovery document: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDiscoveryBytes))
	if err != nil {
		return Endpoints{}, fmt.Errorf("reading discovery document: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return Endpoints{}, fmt.Errorf("discovery document returned status %d", resp.StatusCode)
	}

	fields := gjson.GetManyBytes(body, "authorization_endpoint", "token_endpoint", "revocation_endpoint", "userinfo_endpoint")
	ep := Endpoints{
		AuthURL:       fields[0].Str,
		TokenURL:      fields[1].Str,
		RevocationURL: fields[2].Str,
		UserInfoURL:   fields[3].Str,
	}

	if ep.AuthURL == "" || ep.TokenURL == "" {
		return Endpoints{}, errors.New("discovery document lacks authorization or token endpoint")
	}

	return ep, nil
}

// Revoke invalidates token at the provider. Sign-out calls it best
// effort; a failure leaves the token to expire on its own.
func (p *Provider) Revoke(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}

	ep, err := p.endpoints(ctx)
	if err != nil {
		return err
	}

	if ep.RevocationURL == "" {
		return errors.New("provider has no revocation endpoint")
	}

	form := url.Values{"token": {token}}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.RevocationURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("creating revoke request: %w", err)
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("revoking token: %w", err)
	}
	defer resp.Body.Close()

	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDiscoveryBytes))

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("revoking token: status %d", resp.StatusCode)
	}

	return nil
}
