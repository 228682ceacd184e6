package oidcclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/telekom/authcoord/pkg/coordinator"
)

// DefaultRefreshSkew is how long before expiry a cached access token is
// treated as expired.
const DefaultRefreshSkew = 2 * time.Minute

// refreshTimeout bounds a shared refresh-token grant once it is detached from
// the caller that started it.
const refreshTimeout = 30 * time.Second

// Config describes one public client registration at one authority.
type Config struct {
	Authority string
	ClientID  string
	// RedirectURI must be an http loopback URI. Port 0 picks a free port per
	// interactive attempt.
	RedirectURI     string
	CAFile          string
	InsecureSkipTLS bool
	ExtraAuthParams map[string]string

	Store   Store
	Browser BrowserFunc
	// Out receives the notice printed before the system browser opens.
	Out         io.Writer
	HTTPClient  *http.Client
	RefreshSkew time.Duration
	Now         func() time.Time
}

// Client implements coordinator.Provider and coordinator.DiagnosticsRegistrar.
type Client struct {
	cfg         Config
	redirect    *url.URL
	httpClient  *http.Client
	store       Store
	browser     BrowserFunc
	out         io.Writer
	now         func() time.Time
	refreshSkew time.Duration

	discoverMu sync.Mutex
	endpoint   *oauth2.Endpoint

	refreshes singleflight.Group

	diagMu sync.RWMutex
	diag   coordinator.DiagnosticFunc
}

var (
	_ coordinator.Provider             = (*Client)(nil)
	_ coordinator.DiagnosticsRegistrar = (*Client)(nil)
)

// New validates cfg and prepares the HTTP client. Discovery happens on the
// first call that needs an endpoint.
func New(cfg Config) (*Client, error) {
	if cfg.Authority == "" || cfg.ClientID == "" {
		return nil, errors.New("authority and client-id are required")
	}
	if cfg.Store == nil {
		return nil, errors.New("token store is required")
	}
	redirect, err := parseLoopbackRedirect(cfg.RedirectURI)
	if err != nil {
		return nil, err
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient, err = newHTTPClient(cfg.CAFile, cfg.InsecureSkipTLS)
		if err != nil {
			return nil, err
		}
	}
	c := &Client{
		cfg:         cfg,
		redirect:    redirect,
		httpClient:  httpClient,
		store:       cfg.Store,
		browser:     cfg.Browser,
		out:         cfg.Out,
		now:         cfg.Now,
		refreshSkew: cfg.RefreshSkew,
	}
	if c.browser == nil {
		c.browser = OpenBrowser
	}
	if c.out == nil {
		c.out = os.Stderr
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.refreshSkew <= 0 {
		c.refreshSkew = DefaultRefreshSkew
	}
	return c, nil
}

func parseLoopbackRedirect(raw string) (*url.URL, error) {
	if raw == "" {
		return nil, errors.New("redirect uri is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid redirect uri: %w", err)
	}
	if u.Scheme != "http" {
		return nil, fmt.Errorf("redirect uri must use http, got %q", u.Scheme)
	}
	if !IsLoopbackHost(u.Hostname()) {
		return nil, fmt.Errorf("redirect uri host %q is not a loopback address", u.Hostname())
	}
	if u.Path == "" {
		u.Path = "/"
	}
	return u, nil
}

// IsLoopbackHost reports whether host names the local machine.
func IsLoopbackHost(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// RegisterDiagnostics sets the callback for provider diagnostics.
func (c *Client) RegisterDiagnostics(fn coordinator.DiagnosticFunc) {
	c.diagMu.Lock()
	defer c.diagMu.Unlock()
	c.diag = fn
}

func (c *Client) emit(level coordinator.Level, message string, containsPII bool) {
	c.diagMu.RLock()
	fn := c.diag
	c.diagMu.RUnlock()
	if fn != nil {
		fn(level, message, containsPII)
	}
}

func (c *Client) httpContext(ctx context.Context) context.Context {
	return oidc.ClientContext(ctx, c.httpClient)
}

// discover resolves the authority's endpoints once. Failed discovery is
// retried on the next call.
func (c *Client) discover(ctx context.Context) (oauth2.Endpoint, error) {
	c.discoverMu.Lock()
	defer c.discoverMu.Unlock()
	if c.endpoint != nil {
		return *c.endpoint, nil
	}
	provider, err := oidc.NewProvider(c.httpContext(ctx), c.cfg.Authority)
	if err != nil {
		c.emit(coordinator.LevelError, fmt.Sprintf("discovery failed: %v", err), false)
		return oauth2.Endpoint{}, fmt.Errorf("failed to discover OIDC provider: %w", err)
	}
	endpoint := provider.Endpoint()
	endpoint.AuthStyle = oauth2.AuthStyleInParams
	c.endpoint = &endpoint
	c.emit(coordinator.LevelVerbose, "discovered endpoints for "+c.cfg.Authority, false)
	return endpoint, nil
}

func (c *Client) oauthConfig(endpoint oauth2.Endpoint, redirectURL string, scopes []string) oauth2.Config {
	return oauth2.Config{
		ClientID:    c.cfg.ClientID,
		Endpoint:    endpoint,
		RedirectURL: redirectURL,
		Scopes:      scopes,
	}
}

// Accounts lists cached accounts, most recent sign-in first.
func (c *Client) Accounts(ctx context.Context) ([]coordinator.Account, error) {
	entries, err := c.store.List(ctx)
	if err != nil {
		c.emit(coordinator.LevelError, fmt.Sprintf("failed to list accounts: %v", err), false)
		return nil, err
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].SignedInAt.Equal(entries[j].SignedInAt) {
			return entries[i].SignedInAt.After(entries[j].SignedInAt)
		}
		return entries[i].AccountID < entries[j].AccountID
	})
	accounts := make([]coordinator.Account, 0, len(entries))
	for _, e := range entries {
		accounts = append(accounts, e.account())
	}
	return accounts, nil
}

// RemoveAccount drops the cached tokens of account. Removing an account that
// is not cached succeeds.
func (c *Client) RemoveAccount(ctx context.Context, account coordinator.Account) error {
	if err := c.store.Delete(ctx, account.ID); err != nil {
		c.emit(coordinator.LevelWarning, fmt.Sprintf("failed to remove account %s: %v", account.ID, err), false)
		return err
	}
	c.emit(coordinator.LevelInfo, "removed account "+account.Username, true)
	return nil
}
