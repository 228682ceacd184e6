package coordinator

import (
	"context"
	"fmt"
	"strings"
)

// PresentationMode selects how an interactive flow is shown to the user.
type PresentationMode int32

const (
	// PresentationSystemView hands the authorization page to the system browser.
	PresentationSystemView PresentationMode = iota
	// PresentationEmbedded draws the authorization step inside the parent window.
	PresentationEmbedded
)

func (m PresentationMode) String() string {
	switch m {
	case PresentationSystemView:
		return "system-view"
	case PresentationEmbedded:
		return "embedded"
	default:
		return fmt.Sprintf("PresentationMode(%d)", int32(m))
	}
}

func (m PresentationMode) valid() bool {
	return m == PresentationSystemView || m == PresentationEmbedded
}

// ParsePresentationMode accepts "system-view" (or "system") and "embedded".
// The empty string selects the system view.
func ParsePresentationMode(s string) (PresentationMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "system-view", "system":
		return PresentationSystemView, nil
	case "embedded":
		return PresentationEmbedded, nil
	default:
		return 0, fmt.Errorf("unknown presentation mode %q: supported values are system-view, embedded", s)
	}
}

// InteractivePolicy controls what a second concurrent AcquireInteractive call
// does while another one is presenting UI.
type InteractivePolicy int

const (
	// InteractiveFailFast rejects the second call with ErrInteractionInProgress.
	InteractiveFailFast InteractivePolicy = iota
	// InteractiveQueue blocks the second call until the first one returns or
	// the caller's context is done.
	InteractiveQueue
)

func (p InteractivePolicy) String() string {
	switch p {
	case InteractiveFailFast:
		return "fail-fast"
	case InteractiveQueue:
		return "queue"
	default:
		return fmt.Sprintf("InteractivePolicy(%d)", int(p))
	}
}

// ParseInteractivePolicy accepts "fail-fast" and "queue". The empty string
// selects fail-fast.
func ParseInteractivePolicy(s string) (InteractivePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "fail-fast":
		return InteractiveFailFast, nil
	case "queue":
		return InteractiveQueue, nil
	default:
		return 0, fmt.Errorf("unknown interactive policy %q: supported values are fail-fast, queue", s)
	}
}

// SystemViewOptions are platform presentation flags applied to system view
// flows only.
type SystemViewOptions struct {
	// HidePrivacyPrompt suppresses the notice shown before the browser is
	// opened.
	HidePrivacyPrompt bool
}

// ParentWindow is the platform handle interactive flows are bound to.
type ParentWindow interface {
	// Foreground reports whether the window can currently drive UI.
	Foreground() bool
	// Present shows an authorization URL inside the window. It is used by
	// embedded flows and must return once the URL is on screen.
	Present(ctx context.Context, url string) error
}

// Config is fixed for the lifetime of a Coordinator. Only the presentation
// mode can be changed afterwards, via Coordinator.SetPresentation.
type Config struct {
	ClientID          string
	Scopes            []string
	RedirectURI       string
	Presentation      PresentationMode
	ParentWindow      ParentWindow
	SystemView        SystemViewOptions
	InteractivePolicy InteractivePolicy
}

// Validate reports the first problem New would reject c for.
func (c Config) Validate() error {
	if strings.TrimSpace(c.ClientID) == "" {
		return configError("client id is required")
	}
	if len(c.Scopes) == 0 {
		return configError("at least one scope is required")
	}
	for i, scope := range c.Scopes {
		if strings.TrimSpace(scope) == "" {
			return configError(fmt.Sprintf("scope %d is empty", i))
		}
	}
	if strings.TrimSpace(c.RedirectURI) == "" {
		return configError("redirect uri is required")
	}
	if !c.Presentation.valid() {
		return configError(fmt.Sprintf("unsupported presentation mode %s", c.Presentation))
	}
	if c.InteractivePolicy != InteractiveFailFast && c.InteractivePolicy != InteractiveQueue {
		return configError(fmt.Sprintf("unsupported interactive policy %s", c.InteractivePolicy))
	}
	return nil
}

func configError(detail string) *Error {
	return &Error{Kind: KindConfiguration, Op: "configure", Detail: detail}
}
