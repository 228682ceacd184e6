// Package ratelimit provides per-caller token-bucket rate limiting middleware
// for the token broker, with automatic stale-entry cleanup.
package ratelimit
