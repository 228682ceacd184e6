package oidcclient

import (
	"context"
	"errors"
	"net/url"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telekom/authcoord/pkg/coordinator"
)

func TestNew_Validation(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "tokens.json"))
	valid := Config{
		Authority:   "https://idp.example.com",
		ClientID:    "client",
		RedirectURI: "http://127.0.0.1:0/callback",
		Store:       store,
	}

	tests := []struct {
		name    string
		mutate  func(cfg *Config)
		wantErr string
	}{
		{name: "missing authority", mutate: func(cfg *Config) { cfg.Authority = "" }, wantErr: "authority and client-id are required"},
		{name: "missing client id", mutate: func(cfg *Config) { cfg.ClientID = "" }, wantErr: "authority and client-id are required"},
		{name: "missing store", mutate: func(cfg *Config) { cfg.Store = nil }, wantErr: "token store is required"},
		{name: "missing redirect", mutate: func(cfg *Config) { cfg.RedirectURI = "" }, wantErr: "redirect uri is required"},
		{name: "https redirect", mutate: func(cfg *Config) { cfg.RedirectURI = "https://127.0.0.1/callback" }, wantErr: "must use http"},
		{name: "remote redirect", mutate: func(cfg *Config) { cfg.RedirectURI = "http://example.com/callback" }, wantErr: "not a loopback address"},
		{name: "unreadable CA file", mutate: func(cfg *Config) { cfg.CAFile = "/nonexistent/ca.pem" }, wantErr: "failed to read CA file"},
		{name: "valid", mutate: func(*Config) {}},
		{name: "localhost redirect", mutate: func(cfg *Config) { cfg.RedirectURI = "http://localhost:8400/cb" }},
		{name: "ipv6 loopback redirect", mutate: func(cfg *Config) { cfg.RedirectURI = "http://[::1]:0/cb" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			client, err := New(cfg)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				assert.Nil(t, client)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, client)
		})
	}
}

func TestNew_DoesNotContactAuthority(t *testing.T) {
	idp := newFakeIdP(t)
	client, _ := newTestClient(t, idp, nil)

	accounts, err := client.Accounts(context.Background())
	require.NoError(t, err)
	assert.Empty(t, accounts)
	assert.Zero(t, idp.discoveryCalls.Load())
}

func TestInteractive_SystemBrowser(t *testing.T) {
	idp := newFakeIdP(t)
	idp.set(func(p *fakeIdP) { p.grantedScope = "openid profile api.read" })
	out := &syncBuffer{}
	client, store := newTestClient(t, idp, func(cfg *Config) {
		cfg.Browser = approve(t)
		cfg.Out = out
	})
	window := &testWindow{}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	result, err := client.AcquireTokenInteractive(ctx, coordinator.InteractiveRequest{
		Scopes:       []string{"openid", "api.read"},
		ParentWindow: window,
	})
	require.NoError(t, err)

	assert.Equal(t, "access-1", result.AccessToken)
	assert.Equal(t, "Bearer", result.TokenType)
	assert.Equal(t, "jane@example.com", result.Account.Username)
	assert.Equal(t, idp.URL(), result.Account.Issuer)
	assert.NotEmpty(t, result.Account.ID)
	assert.ElementsMatch(t, []string{"openid", "profile", "api.read"}, result.Scopes)
	assert.WithinDuration(t, time.Now().Add(time.Hour), result.ExpiresOn, time.Minute)
	assert.Zero(t, window.count())
	assert.Contains(t, out.String(), "system browser")
	assert.Equal(t, int32(1), idp.exchangeCalls.Load())

	entry, ok, err := store.Get(ctx, result.Account.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "refresh-1", entry.RefreshToken)
}

func TestInteractive_HidePrivacyPrompt(t *testing.T) {
	idp := newFakeIdP(t)
	out := &syncBuffer{}
	client, _ := newTestClient(t, idp, func(cfg *Config) {
		cfg.Browser = approve(t)
		cfg.Out = out
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := client.AcquireTokenInteractive(ctx, coordinator.InteractiveRequest{
		Scopes:       []string{"openid"},
		ParentWindow: &testWindow{},
		SystemView:   coordinator.SystemViewOptions{HidePrivacyPrompt: true},
	})
	require.NoError(t, err)
	assert.Empty(t, out.String())
}

func TestInteractive_Embedded(t *testing.T) {
	idp := newFakeIdP(t)
	browserCalls := 0
	client, _ := newTestClient(t, idp, func(cfg *Config) {
		cfg.Browser = func(string) error {
			browserCalls++
			return nil
		}
	})
	window := &testWindow{browser: approve(t)}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	result, err := client.AcquireTokenInteractive(ctx, coordinator.InteractiveRequest{
		Scopes:       []string{"openid"},
		Presentation: coordinator.PresentationEmbedded,
		ParentWindow: window,
	})
	require.NoError(t, err)
	assert.Equal(t, "jane@example.com", result.Account.Username)
	assert.Equal(t, 1, window.count())
	assert.Zero(t, browserCalls)
	assert.Equal(t, []string{"openid"}, result.Scopes)
}

func TestInteractive_FallsBackToWindowWithoutBrowser(t *testing.T) {
	idp := newFakeIdP(t)
	client, _ := newTestClient(t, idp, nil)
	window := &testWindow{browser: approve(t)}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := client.AcquireTokenInteractive(ctx, coordinator.InteractiveRequest{
		Scopes:       []string{"openid"},
		ParentWindow: window,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, window.count())
}

func TestInteractive_CallbackErrors(t *testing.T) {
	tests := []struct {
		name    string
		query   url.Values
		wantIs  error
		wantErr string
	}{
		{name: "user denied consent", query: url.Values{"error": {"access_denied"}, "error_description": {"user cancelled"}}, wantIs: coordinator.ErrUserCancelled},
		{name: "login required", query: url.Values{"error": {"login_required"}}, wantIs: coordinator.ErrInteractionRequired},
		{name: "server error", query: url.Values{"error": {"server_error"}}, wantErr: "authorization failed: server_error"},
		{name: "missing code", query: url.Values{}, wantErr: "missing code in callback"},
		{name: "rejected code", query: url.Values{"code": {"forged"}}, wantErr: "token exchange failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idp := newFakeIdP(t)
			client, store := newTestClient(t, idp, func(cfg *Config) {
				cfg.Browser = completeWith(t, tt.query)
			})

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			result, err := client.AcquireTokenInteractive(ctx, coordinator.InteractiveRequest{
				Scopes:       []string{"openid"},
				ParentWindow: &testWindow{},
			})
			require.Error(t, err)
			assert.Nil(t, result)
			if tt.wantIs != nil {
				assert.ErrorIs(t, err, tt.wantIs)
			}
			if tt.wantErr != "" {
				assert.Contains(t, err.Error(), tt.wantErr)
			}

			entries, err := store.List(ctx)
			require.NoError(t, err)
			assert.Empty(t, entries)
		})
	}
}

func TestInteractive_StateMismatch(t *testing.T) {
	idp := newFakeIdP(t)
	client, _ := newTestClient(t, idp, func(cfg *Config) {
		cfg.Browser = completeWith(t, url.Values{"code": {testCode}, "state": {"forged"}})
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := client.AcquireTokenInteractive(ctx, coordinator.InteractiveRequest{
		Scopes:       []string{"openid"},
		ParentWindow: &testWindow{},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid state")
	assert.Zero(t, idp.exchangeCalls.Load())
}

func TestInteractive_ContextCanceled(t *testing.T) {
	idp := newFakeIdP(t)
	client, _ := newTestClient(t, idp, func(cfg *Config) {
		cfg.Browser = func(string) error { return nil }
	})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, err := client.AcquireTokenInteractive(ctx, coordinator.InteractiveRequest{
		Scopes:       []string{"openid"},
		ParentWindow: &testWindow{},
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestInteractive_RequiresParentWindow(t *testing.T) {
	idp := newFakeIdP(t)
	client, _ := newTestClient(t, idp, nil)

	_, err := client.AcquireTokenInteractive(context.Background(), coordinator.InteractiveRequest{Scopes: []string{"openid"}})
	assert.ErrorIs(t, err, coordinator.ErrNoParentWindow)
	assert.Zero(t, idp.discoveryCalls.Load())
}

func TestInteractive_DiscoveryFailure(t *testing.T) {
	client, err := New(Config{
		Authority:   "http://127.0.0.1:1",
		ClientID:    "client",
		RedirectURI: "http://127.0.0.1:0/callback",
		Store:       NewFileStore(filepath.Join(t.TempDir(), "tokens.json")),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = client.AcquireTokenInteractive(ctx, coordinator.InteractiveRequest{
		Scopes:       []string{"openid"},
		ParentWindow: &testWindow{},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to discover OIDC provider")
	assert.NotErrorIs(t, err, coordinator.ErrInteractionRequired)
}

func seedEntry(t *testing.T, store Store, mutate func(e *Entry)) Entry {
	t.Helper()
	e := Entry{
		AccountID:    accountID("https://idp.example.com", "subject-1"),
		Username:     "jane@example.com",
		Issuer:       "https://idp.example.com",
		Subject:      "subject-1",
		AccessToken:  "cached-access",
		RefreshToken: "cached-refresh",
		TokenType:    "Bearer",
		Expiry:       time.Now().Add(time.Hour),
		Scopes:       []string{"openid", "api.read"},
		SignedInAt:   time.Now(),
	}
	if mutate != nil {
		mutate(&e)
	}
	require.NoError(t, store.Put(context.Background(), e))
	return e
}

func TestSilent_ServesFreshTokenFromCache(t *testing.T) {
	idp := newFakeIdP(t)
	client, store := newTestClient(t, idp, nil)
	entry := seedEntry(t, store, nil)

	result, err := client.AcquireTokenSilent(context.Background(), []string{"api.read"}, entry.account())
	require.NoError(t, err)
	assert.Equal(t, "cached-access", result.AccessToken)
	assert.Zero(t, idp.discoveryCalls.Load())
	assert.Zero(t, idp.refreshCalls.Load())
}

func TestSilent_RefreshesExpiringToken(t *testing.T) {
	idp := newFakeIdP(t)
	client, store := newTestClient(t, idp, nil)
	entry := seedEntry(t, store, func(e *Entry) { e.Expiry = time.Now().Add(time.Minute) })

	result, err := client.AcquireTokenSilent(context.Background(), []string{"api.read"}, entry.account())
	require.NoError(t, err)
	assert.Equal(t, "access-1", result.AccessToken)
	assert.Equal(t, entry.AccountID, result.Account.ID)
	assert.Equal(t, int32(1), idp.refreshCalls.Load())

	stored, ok, err := store.Get(context.Background(), entry.AccountID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "refresh-1", stored.RefreshToken)
	assert.Equal(t, "access-1", stored.AccessToken)

	again, err := client.AcquireTokenSilent(context.Background(), []string{"api.read"}, entry.account())
	require.NoError(t, err)
	assert.Equal(t, "access-1", again.AccessToken)
	assert.Equal(t, int32(1), idp.refreshCalls.Load())
}

func TestSilent_RefreshForUncachedScope(t *testing.T) {
	idp := newFakeIdP(t)
	idp.set(func(p *fakeIdP) { p.grantedScope = "openid api.read api.write" })
	client, store := newTestClient(t, idp, nil)
	entry := seedEntry(t, store, nil)

	result, err := client.AcquireTokenSilent(context.Background(), []string{"api.write"}, entry.account())
	require.NoError(t, err)
	assert.Equal(t, "access-1", result.AccessToken)
	assert.Contains(t, result.Scopes, "api.write")
}

func TestSilent_InteractionRequired(t *testing.T) {
	tests := []struct {
		name   string
		seed   func(e *Entry)
		idp    func(p *fakeIdP)
		scopes []string
	}{
		{
			name: "refresh token rejected",
			seed: func(e *Entry) { e.Expiry = time.Now().Add(-time.Minute) },
			idp:  func(p *fakeIdP) { p.refreshError = "invalid_grant" },
		},
		{
			name: "consent required",
			seed: func(e *Entry) { e.Expiry = time.Now().Add(-time.Minute) },
			idp:  func(p *fakeIdP) { p.refreshError = "consent_required" },
		},
		{
			name: "no refresh token",
			seed: func(e *Entry) {
				e.Expiry = time.Now().Add(-time.Minute)
				e.RefreshToken = ""
			},
		},
		{
			name:   "scope not granted",
			idp:    func(p *fakeIdP) { p.grantedScope = "openid api.read" },
			scopes: []string{"api.admin"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idp := newFakeIdP(t)
			if tt.idp != nil {
				idp.set(tt.idp)
			}
			client, store := newTestClient(t, idp, nil)
			entry := seedEntry(t, store, tt.seed)
			scopes := tt.scopes
			if scopes == nil {
				scopes = []string{"api.read"}
			}

			result, err := client.AcquireTokenSilent(context.Background(), scopes, entry.account())
			assert.Nil(t, result)
			assert.ErrorIs(t, err, coordinator.ErrInteractionRequired)
		})
	}
}

func TestSilent_UncachedAccount(t *testing.T) {
	idp := newFakeIdP(t)
	client, _ := newTestClient(t, idp, nil)

	_, err := client.AcquireTokenSilent(context.Background(), []string{"openid"}, coordinator.Account{ID: "gone"})
	assert.ErrorIs(t, err, coordinator.ErrInteractionRequired)
}

func TestSilent_ServerErrorIsNotInteractionRequired(t *testing.T) {
	idp := newFakeIdP(t)
	idp.set(func(p *fakeIdP) { p.refreshError = "temporarily_unavailable" })
	client, store := newTestClient(t, idp, nil)
	entry := seedEntry(t, store, func(e *Entry) { e.Expiry = time.Now().Add(-time.Minute) })

	_, err := client.AcquireTokenSilent(context.Background(), []string{"api.read"}, entry.account())
	require.Error(t, err)
	assert.NotErrorIs(t, err, coordinator.ErrInteractionRequired)
	assert.Contains(t, err.Error(), "failed to refresh token")

	stored, _, err := store.Get(context.Background(), entry.AccountID)
	require.NoError(t, err)
	assert.Equal(t, "cached-refresh", stored.RefreshToken)
}

func TestSilent_ConcurrentRefreshesCollapse(t *testing.T) {
	idp := newFakeIdP(t)
	gate := make(chan struct{})
	idp.set(func(p *fakeIdP) { p.refreshGate = gate })
	client, store := newTestClient(t, idp, nil)
	entry := seedEntry(t, store, func(e *Entry) { e.Expiry = time.Now().Add(-time.Minute) })

	const callers = 5
	var wg sync.WaitGroup
	tokens := make([]string, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result, err := client.AcquireTokenSilent(context.Background(), []string{"api.read"}, entry.account())
			errs[i] = err
			if result != nil {
				tokens[i] = result.AccessToken
			}
		}(i)
	}

	require.Eventually(t, func() bool { return idp.refreshCalls.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(gate)
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "access-1", tokens[i])
	}
	assert.Equal(t, int32(1), idp.refreshCalls.Load())
}

func TestSilent_ContextCanceledDuringRefresh(t *testing.T) {
	idp := newFakeIdP(t)
	gate := make(chan struct{})
	idp.set(func(p *fakeIdP) { p.refreshGate = gate })
	client, store := newTestClient(t, idp, nil)
	entry := seedEntry(t, store, func(e *Entry) { e.Expiry = time.Now().Add(-time.Minute) })

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, err := client.AcquireTokenSilent(ctx, []string{"api.read"}, entry.account())
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)

	// The grant keeps running for later callers and still lands in the cache.
	close(gate)
	require.Eventually(t, func() bool {
		stored, ok, err := store.Get(context.Background(), entry.AccountID)
		return err == nil && ok && stored.AccessToken == "access-1"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSilent_SharedRefreshSurvivesFirstCallerCancel(t *testing.T) {
	idp := newFakeIdP(t)
	gate := make(chan struct{})
	idp.set(func(p *fakeIdP) { p.refreshGate = gate })
	client, store := newTestClient(t, idp, nil)
	entry := seedEntry(t, store, func(e *Entry) { e.Expiry = time.Now().Add(-time.Minute) })

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	defer cancelFirst()
	firstErr := make(chan error, 1)
	go func() {
		_, err := client.AcquireTokenSilent(firstCtx, []string{"api.read"}, entry.account())
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return idp.refreshCalls.Load() == 1 }, 2*time.Second, 10*time.Millisecond)

	type outcome struct {
		result *coordinator.TokenResult
		err    error
	}
	second := make(chan outcome, 1)
	go func() {
		result, err := client.AcquireTokenSilent(context.Background(), []string{"api.read"}, entry.account())
		second <- outcome{result: result, err: err}
	}()
	time.Sleep(50 * time.Millisecond)

	cancelFirst()
	assert.ErrorIs(t, <-firstErr, context.Canceled)
	close(gate)

	select {
	case got := <-second:
		require.NoError(t, got.err)
		assert.Equal(t, "access-1", got.result.AccessToken)
	case <-time.After(2 * time.Second):
		t.Fatal("second caller did not return")
	}
	assert.Equal(t, int32(1), idp.refreshCalls.Load())
}

func TestAccounts_MostRecentFirst(t *testing.T) {
	idp := newFakeIdP(t)
	client, store := newTestClient(t, idp, nil)
	older := seedEntry(t, store, func(e *Entry) {
		e.AccountID = "older"
		e.SignedInAt = time.Now().Add(-time.Hour)
	})
	newer := seedEntry(t, store, func(e *Entry) {
		e.AccountID = "newer"
		e.Username = "john@example.com"
	})

	accounts, err := client.Accounts(context.Background())
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	assert.Equal(t, newer.AccountID, accounts[0].ID)
	assert.Equal(t, older.AccountID, accounts[1].ID)
	assert.Equal(t, "john@example.com", accounts[0].Username)
}

func TestRemoveAccount(t *testing.T) {
	idp := newFakeIdP(t)
	client, store := newTestClient(t, idp, nil)
	entry := seedEntry(t, store, nil)

	require.NoError(t, client.RemoveAccount(context.Background(), entry.account()))
	require.NoError(t, client.RemoveAccount(context.Background(), entry.account()))

	accounts, err := client.Accounts(context.Background())
	require.NoError(t, err)
	assert.Empty(t, accounts)
}

func TestDiagnostics_FlagPersonalData(t *testing.T) {
	idp := newFakeIdP(t)
	client, _ := newTestClient(t, idp, func(cfg *Config) { cfg.Browser = approve(t) })

	type diag struct {
		message string
		pii     bool
	}
	var mu sync.Mutex
	var got []diag
	client.RegisterDiagnostics(func(_ coordinator.Level, message string, containsPII bool) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, diag{message: message, pii: containsPII})
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := client.AcquireTokenInteractive(ctx, coordinator.InteractiveRequest{
		Scopes:       []string{"openid"},
		ParentWindow: &testWindow{},
	})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, got)
	for _, d := range got {
		if d.pii {
			continue
		}
		assert.NotContains(t, d.message, "jane@example.com")
	}
	assert.Contains(t, got, diag{message: "signed in jane@example.com", pii: true})
}

func TestCoordinatorRoundTrip(t *testing.T) {
	idp := newFakeIdP(t)
	idp.set(func(p *fakeIdP) { p.grantedScope = "openid api.read" })
	client, _ := newTestClient(t, idp, func(cfg *Config) { cfg.Browser = approve(t) })

	coord, err := coordinator.New(coordinator.Config{
		ClientID:     "test-client",
		Scopes:       []string{"openid", "api.read"},
		RedirectURI:  "http://127.0.0.1:0/callback",
		ParentWindow: &testWindow{},
	}, client)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err = coord.AcquireSilent(ctx, []string{"api.read"})
	assert.ErrorIs(t, err, coordinator.ErrInteractionRequired)

	interactive, err := coord.AcquireInteractive(ctx, []string{"openid", "api.read"})
	require.NoError(t, err)

	silent, err := coord.AcquireSilent(ctx, []string{"api.read"})
	require.NoError(t, err)
	assert.Equal(t, interactive.AccessToken, silent.AccessToken)
	assert.Equal(t, interactive.Account, silent.Account)

	require.NoError(t, coord.SignOut(ctx))
	_, err = coord.AcquireSilent(ctx, []string{"api.read"})
	assert.ErrorIs(t, err, coordinator.ErrInteractionRequired)
}
