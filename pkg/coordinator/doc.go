// Package coordinator decides when a public OAuth2/OIDC client acquires tokens
// silently and when it has to ask the user, and classifies every result into a
// small error taxonomy callers can act on.
//
// A Coordinator wraps exactly one Provider. It never escalates from silent to
// interactive acquisition on its own: AcquireSilent reports
// ErrInteractionRequired and the caller decides whether a foreground UI is
// available for AcquireInteractive. Interactive calls are serialized so that at
// most one authentication surface is presented at a time.
//
// The application's composition root builds a single Coordinator and passes it
// to the components that need tokens; there is no package-level instance.
package coordinator
