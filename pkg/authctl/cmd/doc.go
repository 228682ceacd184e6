// Package cmd implements the authctl command tree: login, token, accounts,
// logout, the local token broker (serve) and config management.
package cmd
