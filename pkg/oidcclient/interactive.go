package oidcclient

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/oauth2"

	"github.com/telekom/authcoord/pkg/coordinator"
)

type callbackResult struct {
	code string
	err  error
}

// AcquireTokenInteractive runs the authorization code flow with PKCE. The
// authorization URL goes to the parent window for embedded presentation and to
// the system browser otherwise.
func (c *Client) AcquireTokenInteractive(ctx context.Context, req coordinator.InteractiveRequest) (*coordinator.TokenResult, error) {
	if req.ParentWindow == nil {
		return nil, coordinator.ErrNoParentWindow
	}
	endpoint, err := c.discover(ctx)
	if err != nil {
		return nil, err
	}

	listener, redirectURL, err := c.listen()
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = listener.Close()
	}()

	state, err := randomToken(24)
	if err != nil {
		return nil, err
	}
	verifier := oauth2.GenerateVerifier()
	oauthCfg := c.oauthConfig(endpoint, redirectURL, req.Scopes)
	authOpts := []oauth2.AuthCodeOption{oauth2.S256ChallengeOption(verifier)}
	for k, v := range c.cfg.ExtraAuthParams {
		authOpts = append(authOpts, oauth2.SetAuthURLParam(k, v))
	}
	authURL := oauthCfg.AuthCodeURL(state, authOpts...)

	resultCh := make(chan callbackResult, 1)
	server := &http.Server{
		Handler:           c.callbackHandler(state, resultCh),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		_ = server.Serve(listener)
	}()
	defer func() {
		_ = server.Close()
	}()

	if err := c.present(ctx, req, authURL); err != nil {
		return nil, err
	}

	var code string
	select {
	case <-ctx.Done():
		c.emit(coordinator.LevelInfo, "interactive sign-in abandoned", false)
		return nil, ctx.Err()
	case res := <-resultCh:
		if res.err != nil {
			return nil, res.err
		}
		code = res.code
	}

	token, err := oauthCfg.Exchange(c.httpContext(ctx), code, oauth2.VerifierOption(verifier))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		c.emit(coordinator.LevelError, fmt.Sprintf("code exchange failed: %v", err), false)
		return nil, fmt.Errorf("token exchange failed: %w", err)
	}
	entry, err := c.entryFromToken(token, req.Scopes)
	if err != nil {
		return nil, err
	}
	if err := c.store.Put(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to cache signed-in account: %w", err)
	}
	c.emit(coordinator.LevelInfo, "signed in "+entry.Username, true)
	return entry.result(), nil
}

func (c *Client) entryFromToken(token *oauth2.Token, requested []string) (Entry, error) {
	idToken, _ := token.Extra("id_token").(string)
	id, err := identityFromIDToken(idToken)
	if err != nil {
		return Entry{}, err
	}
	issuer := id.Issuer
	if issuer == "" {
		issuer = c.cfg.Authority
	}
	scopes := parseScopeParam(token.Extra("scope"))
	if len(scopes) == 0 {
		scopes = append([]string(nil), requested...)
	}
	return Entry{
		AccountID:    accountID(issuer, id.Subject),
		Username:     id.Username,
		Issuer:       issuer,
		Subject:      id.Subject,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.Type(),
		Expiry:       token.Expiry,
		IDToken:      idToken,
		Scopes:       scopes,
		SignedInAt:   c.now(),
	}, nil
}

// present shows authURL. Without a working system browser the URL falls back
// to the parent window.
func (c *Client) present(ctx context.Context, req coordinator.InteractiveRequest, authURL string) error {
	if req.Presentation == coordinator.PresentationEmbedded {
		if err := req.ParentWindow.Present(ctx, authURL); err != nil {
			return fmt.Errorf("failed to present sign-in page: %w", err)
		}
		return nil
	}
	if !req.SystemView.HidePrivacyPrompt {
		_, _ = fmt.Fprintln(c.out, "Signing in with your system browser. Cookies and an existing browser session may be shared with this sign-in.")
	}
	if err := c.browser(authURL); err != nil {
		c.emit(coordinator.LevelWarning, fmt.Sprintf("system browser unavailable: %v", err), false)
		if err := req.ParentWindow.Present(ctx, authURL); err != nil {
			return fmt.Errorf("failed to present sign-in page: %w", err)
		}
	}
	return nil
}

// listen binds the loopback callback listener. The returned redirect URL
// carries the bound port when the configured port is 0.
func (c *Client) listen() (net.Listener, string, error) {
	port := c.redirect.Port()
	if port == "" {
		port = "0"
	}
	listener, err := net.Listen("tcp", net.JoinHostPort(c.redirect.Hostname(), port))
	if err != nil {
		return nil, "", fmt.Errorf("failed to start callback listener: %w", err)
	}
	bound := listener.Addr().(*net.TCPAddr).Port
	redirect := *c.redirect
	redirect.Host = net.JoinHostPort(c.redirect.Hostname(), strconv.Itoa(bound))
	return listener, redirect.String(), nil
}

func (c *Client) callbackHandler(state string, resultCh chan<- callbackResult) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != c.redirect.Path {
			http.NotFound(w, r)
			return
		}
		query := r.URL.Query()
		if query.Get("state") != state {
			http.Error(w, "invalid state", http.StatusBadRequest)
			deliver(resultCh, callbackResult{err: errors.New("invalid state in callback")})
			return
		}
		if code := query.Get("error"); code != "" {
			description := query.Get("error_description")
			_, _ = fmt.Fprintln(w, "Sign-in was not completed. You can close this window.")
			if code == "access_denied" {
				deliver(resultCh, callbackResult{err: fmt.Errorf("%w: %s", coordinator.ErrUserCancelled, description)})
				return
			}
			if interactionErrorCodes[code] {
				deliver(resultCh, callbackResult{err: fmt.Errorf("%w: authorization failed (%s)", coordinator.ErrInteractionRequired, code)})
				return
			}
			deliver(resultCh, callbackResult{err: fmt.Errorf("authorization failed: %s %s", code, description)})
			return
		}
		code := query.Get("code")
		if code == "" {
			http.Error(w, "missing code", http.StatusBadRequest)
			deliver(resultCh, callbackResult{err: errors.New("missing code in callback")})
			return
		}
		_, _ = fmt.Fprintln(w, "Authentication complete. You can close this window.")
		deliver(resultCh, callbackResult{code: code})
	})
}

// deliver keeps only the first callback.
func deliver(ch chan<- callbackResult, res callbackResult) {
	select {
	case ch <- res:
	default:
	}
}

func randomToken(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate random token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(bytes), nil
}
