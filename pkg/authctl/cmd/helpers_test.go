package cmd

import (
	"bytes"
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

	"github.com/telekom/authcoord/pkg/config"
	"github.com/telekom/authcoord/pkg/oidcclient"
)

const testAuthCode = "cli-test-code"

// testIdP is a minimal OIDC provider: discovery plus a token endpoint that
// accepts the authorization code and refresh grants.
type testIdP struct {
	server *httptest.Server
	issued atomic.Int32
}

func newTestIdP(t *testing.T) *testIdP {
	t.Helper()
	idp := &testIdP{}
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{
			"issuer":                 idp.server.URL,
			"authorization_endpoint": idp.server.URL + "/auth",
			"token_endpoint":         idp.server.URL + "/token",
			"jwks_uri":               idp.server.URL + "/keys",
		})
	})
	mux.HandleFunc("/token", idp.serveToken)
	idp.server = httptest.NewServer(mux)
	t.Cleanup(idp.server.Close)
	return idp
}

func (p *testIdP) serveToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		if r.PostForm.Get("code") != testAuthCode {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
	case "refresh_token":
	default:
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	n := p.issued.Add(1)
	claims := jwt.MapClaims{
		"iss":                p.server.URL,
		"sub":                "subject-jane",
		"aud":                "authctl-test",
		"preferred_username": "jane@example.com",
		"exp":                time.Now().Add(time.Hour).Unix(),
	}
	idToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("cli-test-key"))
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"access_token":  fmt.Sprintf("access-%d", n),
		"token_type":    "Bearer",
		"expires_in":    3600,
		"refresh_token": fmt.Sprintf("refresh-%d", n),
		"id_token":      idToken,
	})
}

// approveBrowser answers the authorization request by calling the loopback
// redirect with a valid code.
func approveBrowser(authURL string) error {
	u, err := url.Parse(authURL)
	if err != nil {
		return err
	}
	q := u.Query()
	callback, err := url.Parse(q.Get("redirect_uri"))
	if err != nil {
		return err
	}
	callback.RawQuery = url.Values{"code": {testAuthCode}, "state": {q.Get("state")}}.Encode()
	go func() {
		resp, err := http.Get(callback.String())
		if err == nil {
			_ = resp.Body.Close()
		}
	}()
	return nil
}

type foregroundWindow struct {
	mu        sync.Mutex
	presented []string
}

func (w *foregroundWindow) Foreground() bool { return true }

func (w *foregroundWindow) Present(_ context.Context, authURL string) error {
	w.mu.Lock()
	w.presented = append(w.presented, authURL)
	w.mu.Unlock()
	return approveBrowser(authURL)
}

func (w *foregroundWindow) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.presented)
}

type fixture struct {
	configPath string
	tokenPath  string
	window     *foregroundWindow
	browser    oidcclient.BrowserFunc
}

// newFixture writes a config pointing at idp with file token storage.
func newFixture(t *testing.T, idp *testIdP) *fixture {
	t.Helper()
	dir := t.TempDir()
	f := &fixture{
		configPath: filepath.Join(dir, "config.yaml"),
		tokenPath:  filepath.Join(dir, "tokens.json"),
		window:     &foregroundWindow{},
		browser:    approveBrowser,
	}
	cfg := config.DefaultConfig()
	cfg.Authority = idp.server.URL
	cfg.ClientID = "authctl-test"
	cfg.TokenStorage = config.StorageFile
	cfg.TokenCacheFile = f.tokenPath
	cfg.LogLevel = "error"
	require.NoError(t, config.Save(f.configPath, &cfg))
	return f
}

// run executes one authctl invocation with fresh runtime state.
func (f *fixture) run(args ...string) (stdout, stderr string, err error) {
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	root := NewRootCommand(Config{
		ConfigPath:   f.configPath,
		OutputWriter: out,
		ErrWriter:    errOut,
		Window:       f.window,
		Browser:      f.browser,
	})
	root.SetArgs(args)
	root.SetOut(out)
	root.SetErr(errOut)
	err = root.Execute()
	return out.String(), errOut.String(), err
}
