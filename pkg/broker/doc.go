// Package broker serves tokens from a Coordinator to local tools over a
// loopback-only HTTP API.
//
// Routes:
//
//	GET  /v1/token?scope=...   silent acquisition
//	POST /v1/interactive       interactive acquisition on the broker's terminal
//	POST /v1/signout           remove all cached accounts
//	GET  /healthz
//	GET  /metrics
//
// Requests from browsers (an Origin header) and requests whose Host is not a
// loopback name are rejected, which blocks cross-site and DNS rebinding
// access.
package broker
