package oidcclient

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v4"

	"github.com/telekom/authcoord/pkg/coordinator"
)

// identity is what the cache needs from an ID token. The token is not
// verified: it was received directly from the token endpoint over TLS and is
// only used to label the account.
type identity struct {
	Subject  string
	Issuer   string
	Username string
}

func identityFromIDToken(raw string) (identity, error) {
	if raw == "" {
		return identity{}, errors.New("token response has no id_token; request the openid scope")
	}
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(raw, claims); err != nil {
		return identity{}, fmt.Errorf("failed to parse id_token: %w", err)
	}
	id := identity{
		Subject: stringClaim(claims, "sub"),
		Issuer:  stringClaim(claims, "iss"),
	}
	if id.Subject == "" {
		return identity{}, errors.New("id_token has no sub claim")
	}
	for _, key := range []string{"preferred_username", "email", "upn", "name"} {
		if v := stringClaim(claims, key); v != "" {
			id.Username = v
			break
		}
	}
	if id.Username == "" {
		id.Username = id.Subject
	}
	return id, nil
}

func stringClaim(claims jwt.MapClaims, key string) string {
	if v, ok := claims[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

// accountID is opaque and stable for one subject at one issuer, so it can be
// logged and used as a keychain item name.
func accountID(issuer, subject string) string {
	sum := sha256.Sum256([]byte(issuer + "\x00" + subject))
	return hex.EncodeToString(sum[:16])
}

func (e Entry) account() coordinator.Account {
	return coordinator.Account{ID: e.AccountID, Username: e.Username, Issuer: e.Issuer}
}

func (e Entry) result() *coordinator.TokenResult {
	return &coordinator.TokenResult{
		AccessToken: e.AccessToken,
		TokenType:   e.TokenType,
		IDToken:     e.IDToken,
		ExpiresOn:   e.Expiry,
		Account:     e.account(),
		Scopes:      append([]string(nil), e.Scopes...),
	}
}

// protocolScopes are granted implicitly and often left out of the scope
// parameter of token responses.
var protocolScopes = map[string]bool{
	"openid":         true,
	"offline_access": true,
}

// coversScopes reports whether granted contains every requested scope that is
// not a protocol scope.
func coversScopes(granted, requested []string) bool {
	have := make(map[string]bool, len(granted))
	for _, s := range granted {
		have[s] = true
	}
	for _, s := range requested {
		if protocolScopes[s] {
			continue
		}
		if !have[s] {
			return false
		}
	}
	return true
}

func parseScopeParam(v interface{}) []string {
	s, ok := v.(string)
	if !ok {
		return nil
	}
	return strings.Fields(s)
}
