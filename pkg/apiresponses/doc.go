// Package apiresponses maps coordinator errors onto the JSON error responses
// and status codes of the token broker.
package apiresponses
