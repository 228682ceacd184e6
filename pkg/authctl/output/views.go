package output

import (
	"time"

	"github.com/telekom/authcoord/pkg/coordinator"
)

// AccountView is the printable form of a cached account.
type AccountView struct {
	ID       string `json:"id" yaml:"id"`
	Username string `json:"username,omitempty" yaml:"username,omitempty"`
	Issuer   string `json:"issuer,omitempty" yaml:"issuer,omitempty"`
}

// TokenView is the printable form of a token result. The access token is
// only included when requested.
type TokenView struct {
	AccessToken string      `json:"access_token,omitempty" yaml:"access_token,omitempty"`
	TokenType   string      `json:"token_type" yaml:"token_type"`
	ExpiresOn   time.Time   `json:"expires_on" yaml:"expires_on"`
	Scopes      []string    `json:"scopes,omitempty" yaml:"scopes,omitempty"`
	Account     AccountView `json:"account" yaml:"account"`
}

func NewAccountView(a coordinator.Account) AccountView {
	return AccountView{ID: a.ID, Username: a.Username, Issuer: a.Issuer}
}

func NewAccountViews(accounts []coordinator.Account) []AccountView {
	views := make([]AccountView, 0, len(accounts))
	for _, a := range accounts {
		views = append(views, NewAccountView(a))
	}
	return views
}

func NewTokenView(r *coordinator.TokenResult, includeToken bool) TokenView {
	view := TokenView{
		TokenType: r.TokenType,
		ExpiresOn: r.ExpiresOn,
		Scopes:    r.Scopes,
		Account:   NewAccountView(r.Account),
	}
	if includeToken {
		view.AccessToken = r.AccessToken
	}
	return view
}
