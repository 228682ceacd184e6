package coordinator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// fakeProvider records calls and lets tests script every capability.
type fakeProvider struct {
	mu       sync.Mutex
	accounts []Account

	accountsErr error
	removeErrs  map[string]error
	removeFn    func(ctx context.Context, account Account) error

	silentFn      func(ctx context.Context, scopes []string, account Account) (*TokenResult, error)
	interactiveFn func(ctx context.Context, req InteractiveRequest) (*TokenResult, error)

	accountsCalls    atomic.Int32
	silentCalls      atomic.Int32
	interactiveCalls atomic.Int32
	removeCalls      atomic.Int32

	lastRequest InteractiveRequest
	diag        DiagnosticFunc
}

func newFakeProvider(accounts ...Account) *fakeProvider {
	return &fakeProvider{accounts: accounts, removeErrs: map[string]error{}}
}

func (p *fakeProvider) Accounts(_ context.Context) ([]Account, error) {
	p.accountsCalls.Add(1)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.accountsErr != nil {
		return nil, p.accountsErr
	}
	out := make([]Account, len(p.accounts))
	copy(out, p.accounts)
	return out, nil
}

func (p *fakeProvider) AcquireTokenSilent(ctx context.Context, scopes []string, account Account) (*TokenResult, error) {
	p.silentCalls.Add(1)
	if p.silentFn != nil {
		return p.silentFn(ctx, scopes, account)
	}
	return tokenFor(account, scopes), nil
}

func (p *fakeProvider) AcquireTokenInteractive(ctx context.Context, req InteractiveRequest) (*TokenResult, error) {
	p.interactiveCalls.Add(1)
	p.mu.Lock()
	p.lastRequest = req
	p.mu.Unlock()
	if p.interactiveFn != nil {
		return p.interactiveFn(ctx, req)
	}
	account := Account{ID: "interactive-user", Username: "user@example.com"}
	p.addAccount(account)
	return tokenFor(account, req.Scopes), nil
}

func (p *fakeProvider) RemoveAccount(ctx context.Context, account Account) error {
	p.removeCalls.Add(1)
	if p.removeFn != nil {
		if err := p.removeFn(ctx, account); err != nil {
			return err
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.removeErrs[account.ID]; err != nil {
		return err
	}
	for i := range p.accounts {
		if p.accounts[i].ID == account.ID {
			p.accounts = append(p.accounts[:i], p.accounts[i+1:]...)
			break
		}
	}
	return nil
}

func (p *fakeProvider) RegisterDiagnostics(fn DiagnosticFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.diag = fn
}

func (p *fakeProvider) emit(level Level, message string, containsPII bool) {
	p.mu.Lock()
	fn := p.diag
	p.mu.Unlock()
	if fn != nil {
		fn(level, message, containsPII)
	}
}

func (p *fakeProvider) addAccount(account Account) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accounts = append(p.accounts, account)
}

func (p *fakeProvider) cachedAccounts() []Account {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Account, len(p.accounts))
	copy(out, p.accounts)
	return out
}

func tokenFor(account Account, scopes []string) *TokenResult {
	return &TokenResult{
		AccessToken: "access-" + account.ID,
		TokenType:   "Bearer",
		ExpiresOn:   time.Now().Add(time.Hour),
		Account:     account,
		Scopes:      scopes,
	}
}

type fakeWindow struct {
	foreground bool
	mu         sync.Mutex
	presented  []string
}

func (w *fakeWindow) Foreground() bool { return w.foreground }

func (w *fakeWindow) Present(_ context.Context, url string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.presented = append(w.presented, url)
	return nil
}

type capturingSink struct {
	mu      sync.Mutex
	entries []capturedDiagnostic
}

type capturedDiagnostic struct {
	level       Level
	message     string
	containsPII bool
}

func (s *capturingSink) Diagnostic(level Level, message string, containsPII bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, capturedDiagnostic{level: level, message: message, containsPII: containsPII})
}

func (s *capturingSink) all() []capturedDiagnostic {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]capturedDiagnostic, len(s.entries))
	copy(out, s.entries)
	return out
}
