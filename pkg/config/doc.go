// Package config loads and validates the authctl configuration file and
// resolves its default locations.
package config
