package coordinator

import (
	"errors"
	"strings"
)

// ErrorKind classifies every failure the coordinator surfaces.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	// KindConfiguration is a fatal misconfiguration or an invalid request,
	// detected before any provider call.
	KindConfiguration
	// KindInteractionRequired is a control-flow signal: the caller should
	// escalate to AcquireInteractive if it can show UI.
	KindInteractionRequired
	// KindUserCancelled ends the current attempt. Retry only on fresh user
	// action.
	KindUserCancelled
	// KindNoParentWindow means there is no foreground window to present UI on.
	KindNoParentWindow
	// KindInteractionInProgress is transient: another interactive flow is
	// presenting UI.
	KindInteractionInProgress
	// KindProviderFailure is a network or provider-side error.
	KindProviderFailure
	// KindPartialSignOut means at least one cached account could not be removed.
	KindPartialSignOut
	// KindCanceled means the caller's context ended the operation.
	KindCanceled
)

// Sentinels for errors.Is. Providers wrap ErrInteractionRequired,
// ErrUserCancelled and ErrNoParentWindow to signal those conditions.
var (
	ErrConfiguration         = errors.New("configuration error")
	ErrInteractionRequired   = errors.New("interaction required")
	ErrUserCancelled         = errors.New("user cancelled")
	ErrNoParentWindow        = errors.New("no parent window")
	ErrInteractionInProgress = errors.New("interaction already in progress")
	ErrProviderFailure       = errors.New("provider failure")
	ErrPartialSignOut        = errors.New("partial sign-out failure")
	ErrCanceled              = errors.New("operation canceled")
)

var kindSentinels = map[ErrorKind]error{
	KindConfiguration:         ErrConfiguration,
	KindInteractionRequired:   ErrInteractionRequired,
	KindUserCancelled:         ErrUserCancelled,
	KindNoParentWindow:        ErrNoParentWindow,
	KindInteractionInProgress: ErrInteractionInProgress,
	KindProviderFailure:       ErrProviderFailure,
	KindPartialSignOut:        ErrPartialSignOut,
	KindCanceled:              ErrCanceled,
}

// SentinelFor returns the sentinel error of kind, or nil for KindUnknown.
func SentinelFor(kind ErrorKind) error {
	return kindSentinels[kind]
}

var kindNames = map[ErrorKind]string{
	KindUnknown:               "unknown",
	KindConfiguration:         "configuration_error",
	KindInteractionRequired:   "interaction_required",
	KindUserCancelled:         "user_cancelled",
	KindNoParentWindow:        "no_parent_window",
	KindInteractionInProgress: "interaction_in_progress",
	KindProviderFailure:       "provider_failure",
	KindPartialSignOut:        "partial_sign_out_failure",
	KindCanceled:              "canceled",
}

// String returns the snake_case name used in logs, metrics and the broker API.
func (k ErrorKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return kindNames[KindUnknown]
}

// AccountFailure records why one account could not be removed during SignOut.
type AccountFailure struct {
	Account Account
	Err     error
}

// Error is the error type returned by every Coordinator operation.
type Error struct {
	Kind   ErrorKind
	Op     string
	Detail string
	// Err is the underlying provider or context error, if any.
	Err error
	// Failures is set for KindPartialSignOut, and for KindCanceled when a
	// sign-out was interrupted after some removals had already failed.
	Failures []AccountFailure
}

func (e *Error) Error() string {
	parts := make([]string, 0, 4)
	if e.Op != "" {
		parts = append(parts, e.Op)
	}
	sentinel := kindSentinels[e.Kind]
	if sentinel != nil && (e.Err == nil || !errors.Is(e.Err, sentinel)) {
		parts = append(parts, sentinel.Error())
	}
	if e.Detail != "" {
		parts = append(parts, e.Detail)
	}
	if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}
	if len(parts) == 0 {
		return "coordinator error"
	}
	return strings.Join(parts, ": ")
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel belonging to the error's kind, so
// errors.Is(err, ErrInteractionRequired) works on coordinator errors.
func (e *Error) Is(target error) bool {
	sentinel, ok := kindSentinels[e.Kind]
	return ok && target == sentinel
}

// FailedAccounts returns the accounts that SignOut could not remove.
func (e *Error) FailedAccounts() []Account {
	accounts := make([]Account, 0, len(e.Failures))
	for _, f := range e.Failures {
		accounts = append(accounts, f.Account)
	}
	return accounts
}

// KindOf returns the kind of a coordinator error, or KindUnknown.
func KindOf(err error) ErrorKind {
	var cerr *Error
	if errors.As(err, &cerr) {
		return cerr.Kind
	}
	return KindUnknown
}

// Retryable reports whether repeating the same call later, without user
// involvement, can succeed.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindProviderFailure, KindInteractionInProgress:
		return true
	default:
		return false
	}
}
