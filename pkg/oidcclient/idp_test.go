package oidcclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/require"
)

const testCode = "test-code"

// fakeIdP serves discovery and a token endpoint for both grants.
type fakeIdP struct {
	server *httptest.Server

	mu           sync.Mutex
	username     string
	grantedScope string
	refreshError string
	refreshGate  chan struct{}
	lastVerifier string

	discoveryCalls atomic.Int32
	refreshCalls   atomic.Int32
	exchangeCalls  atomic.Int32
	seq            atomic.Int32
}

func newFakeIdP(t *testing.T) *fakeIdP {
	t.Helper()
	idp := &fakeIdP{username: "jane@example.com"}
	idp.server = httptest.NewServer(http.HandlerFunc(idp.serveHTTP))
	t.Cleanup(idp.server.Close)
	return idp
}

func (p *fakeIdP) URL() string { return p.server.URL }

func (p *fakeIdP) set(fn func(p *fakeIdP)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(p)
}

func (p *fakeIdP) serveHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/.well-known/openid-configuration":
		p.discoveryCalls.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"issuer":                 p.server.URL,
			"authorization_endpoint": p.server.URL + "/auth",
			"token_endpoint":         p.server.URL + "/token",
			"jwks_uri":               p.server.URL + "/keys",
		})
	case "/token":
		p.serveToken(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (p *fakeIdP) serveToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	p.mu.Lock()
	username, scope, refreshError, gate := p.username, p.grantedScope, p.refreshError, p.refreshGate
	p.mu.Unlock()

	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		p.exchangeCalls.Add(1)
		p.mu.Lock()
		p.lastVerifier = r.PostForm.Get("code_verifier")
		p.mu.Unlock()
		if r.PostForm.Get("code") != testCode || r.PostForm.Get("code_verifier") == "" {
			writeOAuthError(w, "invalid_grant")
			return
		}
	case "refresh_token":
		p.refreshCalls.Add(1)
		if gate != nil {
			<-gate
		}
		if refreshError != "" {
			writeOAuthError(w, refreshError)
			return
		}
	default:
		writeOAuthError(w, "unsupported_grant_type")
		return
	}

	n := p.seq.Add(1)
	body := map[string]interface{}{
		"access_token":  fmt.Sprintf("access-%d", n),
		"token_type":    "Bearer",
		"expires_in":    3600,
		"refresh_token": fmt.Sprintf("refresh-%d", n),
		"id_token":      p.idToken(username),
	}
	if scope != "" {
		body["scope"] = scope
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

func (p *fakeIdP) idToken(username string) string {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss":                p.server.URL,
		"sub":                "subject-" + username,
		"aud":                "test-client",
		"preferred_username": username,
		"exp":                time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte("test-signing-key"))
	if err != nil {
		panic(err)
	}
	return signed
}

func writeOAuthError(w http.ResponseWriter, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code})
}

// completeWith returns a browser that answers the authorization request by
// calling the redirect URI with the given query values.
func completeWith(t *testing.T, extra url.Values) BrowserFunc {
	t.Helper()
	return func(authURL string) error {
		u, err := url.Parse(authURL)
		if err != nil {
			return err
		}
		q := u.Query()
		if q.Get("code_challenge_method") != "S256" || q.Get("code_challenge") == "" {
			return fmt.Errorf("authorization request without PKCE: %s", authURL)
		}
		callback, err := url.Parse(q.Get("redirect_uri"))
		if err != nil {
			return err
		}
		values := url.Values{"state": {q.Get("state")}}
		for k, v := range extra {
			values[k] = v
		}
		callback.RawQuery = values.Encode()
		go func() {
			resp, err := http.Get(callback.String())
			if err == nil {
				_ = resp.Body.Close()
			}
		}()
		return nil
	}
}

func approve(t *testing.T) BrowserFunc {
	return completeWith(t, url.Values{"code": {testCode}})
}

type testWindow struct {
	browser BrowserFunc

	mu        sync.Mutex
	presented []string
}

func (w *testWindow) Foreground() bool { return true }

func (w *testWindow) Present(_ context.Context, authURL string) error {
	w.mu.Lock()
	w.presented = append(w.presented, authURL)
	w.mu.Unlock()
	if w.browser != nil {
		return w.browser(authURL)
	}
	return nil
}

func (w *testWindow) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.presented)
}

func newTestClient(t *testing.T, idp *fakeIdP, mutate func(cfg *Config)) (*Client, *FileStore) {
	t.Helper()
	store := NewFileStore(filepath.Join(t.TempDir(), "tokens.json"))
	cfg := Config{
		Authority:   idp.URL(),
		ClientID:    "test-client",
		RedirectURI: "http://127.0.0.1:0/callback",
		Store:       store,
		Browser:     NoBrowser,
		Out:         &syncBuffer{},
	}
	if mutate != nil {
		mutate(&cfg)
	}
	client, err := New(cfg)
	require.NoError(t, err)
	return client, store
}

type syncBuffer struct {
	mu  sync.Mutex
	buf []byte
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
