// Package oidcclient is an OIDC public-client provider for the token
// coordinator. It discovers endpoints lazily, runs the authorization code flow
// with PKCE against a loopback redirect, refreshes tokens silently and caches
// accounts in the OS keychain or a local file.
package oidcclient
