package coordinator

import (
	"context"
	"time"
)

// Account is a locally cached identity the provider can acquire tokens for
// without asking the user.
type Account struct {
	// ID is the provider's stable identifier for the account.
	ID       string
	Username string
	Issuer   string
}

// TokenResult is produced by a Provider and passed through unchanged.
type TokenResult struct {
	AccessToken string
	TokenType   string
	IDToken     string
	ExpiresOn   time.Time
	Account     Account
	// Scopes are the scopes the provider reports as granted.
	Scopes []string
}

// InteractiveRequest describes one interactive acquisition.
type InteractiveRequest struct {
	Scopes       []string
	Presentation PresentationMode
	ParentWindow ParentWindow
	// SystemView is only populated for PresentationSystemView.
	SystemView SystemViewOptions
}

// Provider is the narrow capability set the coordinator needs from an
// authentication library. Implementations must be safe for concurrent use and
// must return promptly once ctx is done.
type Provider interface {
	// Accounts lists cached accounts in the provider's preferred order.
	Accounts(ctx context.Context) ([]Account, error)
	// AcquireTokenSilent returns a token without user interaction, wrapping
	// ErrInteractionRequired when that is impossible.
	AcquireTokenSilent(ctx context.Context, scopes []string, account Account) (*TokenResult, error)
	// AcquireTokenInteractive runs a user-facing flow, wrapping
	// ErrUserCancelled when the user aborts it.
	AcquireTokenInteractive(ctx context.Context, req InteractiveRequest) (*TokenResult, error)
	// RemoveAccount drops an account from the provider's local cache.
	RemoveAccount(ctx context.Context, account Account) error
}

// DiagnosticsRegistrar is implemented by providers that emit diagnostics.
type DiagnosticsRegistrar interface {
	RegisterDiagnostics(fn DiagnosticFunc)
}
