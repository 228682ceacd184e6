// Package system provides logger construction and request-scoped logging
// helpers shared by the CLI and the token broker.
package system
