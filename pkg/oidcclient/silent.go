package oidcclient

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/oauth2"

	"github.com/telekom/authcoord/pkg/coordinator"
)

// interactionErrorCodes are OAuth error codes after which only a new
// interactive sign-in can help.
var interactionErrorCodes = map[string]bool{
	"invalid_grant":              true,
	"interaction_required":       true,
	"login_required":             true,
	"consent_required":           true,
	"account_selection_required": true,
}

// AcquireTokenSilent returns the cached access token when it is fresh and
// covers scopes, and otherwise redeems the refresh token.
func (c *Client) AcquireTokenSilent(ctx context.Context, scopes []string, account coordinator.Account) (*coordinator.TokenResult, error) {
	entry, ok, err := c.store.Get(ctx, account.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to read cached account: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: account is no longer cached", coordinator.ErrInteractionRequired)
	}
	if c.fresh(entry) && coversScopes(entry.Scopes, scopes) {
		c.emit(coordinator.LevelVerbose, "served access token from cache", false)
		return entry.result(), nil
	}
	if entry.RefreshToken == "" {
		return nil, fmt.Errorf("%w: no refresh token cached", coordinator.ErrInteractionRequired)
	}

	// The refresh is shared by every caller waiting on this account, so it
	// must not end when the caller that started it goes away.
	ch := c.refreshes.DoChan(entry.AccountID, func() (interface{}, error) {
		refreshCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()
		return c.refresh(refreshCtx, entry)
	})
	var refreshed Entry
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		refreshed = res.Val.(Entry)
	}
	if !coversScopes(refreshed.Scopes, scopes) {
		return nil, fmt.Errorf("%w: requested scopes were not granted to the cached account", coordinator.ErrInteractionRequired)
	}
	return refreshed.result(), nil
}

func (c *Client) fresh(e Entry) bool {
	if e.AccessToken == "" || e.Expiry.IsZero() {
		return false
	}
	return c.now().Add(c.refreshSkew).Before(e.Expiry)
}

func (c *Client) refresh(ctx context.Context, entry Entry) (Entry, error) {
	endpoint, err := c.discover(ctx)
	if err != nil {
		return Entry{}, err
	}
	cfg := c.oauthConfig(endpoint, "", entry.Scopes)
	token, err := cfg.TokenSource(c.httpContext(ctx), &oauth2.Token{RefreshToken: entry.RefreshToken}).Token()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Entry{}, ctxErr
		}
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) && interactionErrorCodes[rerr.ErrorCode] {
			c.emit(coordinator.LevelWarning, "refresh token rejected: "+rerr.ErrorCode, false)
			return Entry{}, fmt.Errorf("%w: refresh token rejected (%s)", coordinator.ErrInteractionRequired, rerr.ErrorCode)
		}
		c.emit(coordinator.LevelError, fmt.Sprintf("token refresh failed: %v", err), false)
		return Entry{}, fmt.Errorf("failed to refresh token: %w", err)
	}

	updated := entry
	updated.AccessToken = token.AccessToken
	updated.TokenType = token.Type()
	updated.Expiry = token.Expiry
	if token.RefreshToken != "" {
		updated.RefreshToken = token.RefreshToken
	}
	if idToken, ok := token.Extra("id_token").(string); ok && idToken != "" {
		updated.IDToken = idToken
	}
	if granted := parseScopeParam(token.Extra("scope")); len(granted) > 0 {
		updated.Scopes = granted
	}
	if err := c.store.Put(ctx, updated); err != nil {
		return Entry{}, fmt.Errorf("failed to cache refreshed token: %w", err)
	}
	c.emit(coordinator.LevelInfo, "refreshed access token for "+entry.Username, true)
	return updated, nil
}
