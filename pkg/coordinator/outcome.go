package coordinator

import "errors"

// OutcomeKind tags an Outcome.
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeInteractionRequired
	OutcomeFailure
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeInteractionRequired:
		return "interaction_required"
	default:
		return "failure"
	}
}

// Outcome is the tagged form of an acquisition result:
// Success(Result), InteractionRequired or Failure(ErrorKind, Detail).
type Outcome struct {
	Kind      OutcomeKind
	Result    *TokenResult
	ErrorKind ErrorKind
	Detail    string
	Err       error
}

// OutcomeOf folds the (result, error) pair returned by AcquireSilent or
// AcquireInteractive into an Outcome.
func OutcomeOf(result *TokenResult, err error) Outcome {
	if err == nil {
		return Outcome{Kind: OutcomeSuccess, Result: result}
	}
	if errors.Is(err, ErrInteractionRequired) {
		return Outcome{Kind: OutcomeInteractionRequired, ErrorKind: KindInteractionRequired, Err: err}
	}
	kind := KindOf(err)
	if kind == KindUnknown {
		kind = KindProviderFailure
	}
	out := Outcome{Kind: OutcomeFailure, ErrorKind: kind, Err: err}
	var cerr *Error
	if errors.As(err, &cerr) {
		out.Detail = cerr.Detail
	}
	if out.Detail == "" {
		out.Detail = err.Error()
	}
	return out
}
