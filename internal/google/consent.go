package google

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/alexjbarnes/pairchat/internal/models"
	"golang.org/x/oauth2"
)

// ConsentError is a denial or failure reported by the provider during a
// consent flow. Code and Description are the provider's own values.
type ConsentError struct {
	Code        string
	Description string
}

func (e *ConsentError) Error() string {
	if e.Description == "" {
		return "consent failed: " + e.Code
	}

	return fmt.Sprintf("consent failed: %s: %s", e.Code, e.Description)
}

// Denied reports whether the user declined consent.
func (e *ConsentError) Denied() bool {
	return e.Code == "access_denied"
}

// callbackResult is what the loopback handler hands to the waiting flow.
type callbackResult struct {
	code string
	err  error
}

// consentRequest describes one interactive flow.
type consentRequest struct {
	scopes    []string
	loginHint string
	prompt    string
}

// SignIn runs the OpenID Connect flow and returns the identity from the
// ID token.
func (p *Provider) SignIn(ctx context.Context) (*models.Identity, error) {
	tok, err := p.consent(ctx, consentRequest{scopes: signInScopes, prompt: "select_account"})
	if err != nil {
		return nil, fmt.Errorf("signing in: %w", err)
	}

	raw, _ := tok.Extra("id_token").(string)
	if raw == "" {
		return nil, fmt.Errorf("signing in: token response has no id_token")
	}

	id, err := DecodeIDToken(raw)
	if err != nil {
		return nil, fmt.Errorf("signing in: %w", err)
	}

	return id, nil
}

// RequestGrant asks for an access token carrying scopes on behalf of the
// account named by loginHint. It may open the consent page.
func (p *Provider) RequestGrant(ctx context.Context, scopes []string, loginHint string) (*models.GrantResponse, error) {
	tok, err := p.consent(ctx, consentRequest{scopes: scopes, loginHint: loginHint})
	if err != nil {
		return nil, fmt.Errorf("requesting access: %w", err)
	}

	expiresIn := time.Duration(tok.ExpiresIn) * time.Second
	if expiresIn <= 0 && !tok.Expiry.IsZero() {
		expiresIn = time.Until(tok.Expiry)
	}

	granted := scopes
	if s, ok := tok.Extra("scope").(string); ok && s != "" {
		granted = strings.Fields(s)
	}

	return &models.GrantResponse{
		AccessToken: tok.AccessToken,
		ExpiresIn:   expiresIn,
		Scopes:      granted,
	}, nil
}

// consent runs an authorization code flow with PKCE. The browser is
// sent to the provider and returns to a listener on 127.0.0.1.
func (p *Provider) consent(ctx context.Context, cr consentRequest) (*oauth2.Token, error) {
	ep, err := p.endpoints(ctx)
	if err != nil {
		return nil, err
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("starting callback listener: %w", err)
	}

	conf := &oauth2.Config{
		ClientID:     p.cfg.ClientID,
		ClientSecret: p.cfg.ClientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:   ep.AuthURL,
			TokenURL:  ep.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
		RedirectURL: fmt.Sprintf("http://%s/callback", ln.Addr().String()),
		Scopes:      cr.scopes,
	}

	state := oauth2.GenerateVerifier()
	verifier := oauth2.GenerateVerifier()

	opts := []oauth2.AuthCodeOption{
		oauth2.S256ChallengeOption(verifier),
		oauth2.SetAuthURLParam("include_granted_scopes", "true"),
	}

	if cr.loginHint != "" {
		opts = append(opts, oauth2.SetAuthURLParam("login_hint", cr.loginHint))
	}

	if cr.prompt != "" {
		opts = append(opts, oauth2.SetAuthURLParam("prompt", cr.prompt))
	}

	results := make(chan callbackResult, 1)

	mux := http.NewServeMux()
	mux.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
		res := readCallback(r, state)

		if res.err != nil {
			http.Error(w, "Sign-in did not complete: "+html.EscapeString(res.err.Error()), http.StatusBadRequest)
		} else {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = w.Write([]byte("<html><body>Signed in. You can close this window.</body></html>"))
		}

		select {
		case results <- res:
		default:
		}
	})

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			p.logger.Warn("callback listener stopped", slog.String("error", err.Error()))
		}
	}()

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		_ = srv.Shutdown(shutdownCtx)
	}()

	authURL := conf.AuthCodeURL(state, opts...)

	p.logger.Info("opening browser for consent", slog.String("url", authURL))

	if err := p.openURL(authURL); err != nil {
		p.logger.Warn("could not open browser, visit the url manually", slog.String("error", err.Error()))
	}

	timer := time.NewTimer(p.cfg.ConsentTimeout)
	defer timer.Stop()

	var res callbackResult

	select {
	case res = <-results:
	case <-timer.C:
		return nil, &ConsentError{Code: "timeout", Description: "no response from browser"}
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if res.err != nil {
		return nil, res.err
	}

	exchangeCtx := context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)

	tok, err := conf.Exchange(exchangeCtx, res.code, oauth2.VerifierOption(verifier))
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.ErrorCode != "" {
			return nil, &ConsentError{Code: re.ErrorCode, Description: re.ErrorDescription}
		}

		return nil, fmt.Errorf("exchanging authorization code: %w", err)
	}

	return tok, nil
}

// readCallback validates the redirect and extracts the code or the
// provider's error.
func readCallback(r *http.Request, state string) callbackResult {
	q := r.URL.Query()

	if q.Get("state") != state {
		return callbackResult{err: &ConsentError{Code: "invalid_state", Description: "state mismatch in callback"}}
	}

	if code := q.Get("error"); code != "" {
		return callbackResult{err: &ConsentError{Code: code, Description: q.Get("error_description")}}
	}

	code := q.Get("code")
	if code == "" {
		return callbackResult{err: &ConsentError{Code: "invalid_request", Description: "callback has no code"}}
	}

	return callbackResult{code: code}
}
